// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccoord

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bureau-foundation/seclink/lib/secproto"
)

// Metrics records coordinator activity. A nil *Metrics records nothing.
type Metrics struct {
	requests     *prometheus.CounterVec
	linkFailures *prometheus.CounterVec
}

// NewMetrics registers the coordinator collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seclink",
				Subsystem: "coordinator",
				Name:      "requests_total",
				Help:      "Protocol requests answered, by opcode and status.",
			},
			[]string{"opcode", "status"},
		),
		linkFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seclink",
				Subsystem: "coordinator",
				Name:      "link_failures_total",
				Help:      "Requests that could not reach the Security Core, by opcode.",
			},
			[]string{"opcode"},
		),
	}
}

func (m *Metrics) request(op secproto.Opcode, status secproto.Status) {
	if m != nil {
		m.requests.WithLabelValues(op.String(), status.String()).Inc()
	}
}

func (m *Metrics) linkFailure(op secproto.Opcode) {
	if m != nil {
		m.linkFailures.WithLabelValues(op.String()).Inc()
	}
}
