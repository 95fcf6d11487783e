// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK        = "ok"
	outcomeError     = "error"
	outcomeViolation = "violation"
	outcomeClosed    = "closed"
)

// Metrics records bus activity. A nil *Metrics records nothing.
type Metrics struct {
	calls   *prometheus.CounterVec
	clients prometheus.Gauge
}

// NewMetrics registers the bus collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seclink",
				Subsystem: "bus",
				Name:      "calls_total",
				Help:      "Bus calls answered, by outcome.",
			},
			[]string{"outcome"},
		),
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "seclink",
			Subsystem: "bus",
			Name:      "clients",
			Help:      "Clients currently attached.",
		}),
	}
}

func (m *Metrics) callFinished(outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) clientAttached() {
	if m != nil {
		m.clients.Inc()
	}
}

func (m *Metrics) clientDetached() {
	if m != nil {
		m.clients.Dec()
	}
}
