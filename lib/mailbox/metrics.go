// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailbox

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records link activity. A nil *Metrics records nothing.
type Metrics struct {
	frames      *prometheus.CounterVec
	faults      prometheus.Counter
	timeouts    prometheus.Counter
	stale       prometheus.Counter
	stagedBytes prometheus.Counter
	roundTrips  prometheus.Histogram
}

// NewMetrics registers the mailbox collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: "seclink",
			Subsystem: "mailbox",
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		frames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "seclink",
				Subsystem: "mailbox",
				Name:      "frames_sent_total",
				Help:      "Request frames written to the outbox, by opcode.",
			},
			[]string{"opcode"},
		),
		faults:      counter("faults_total", "Calls failed by the error line or a staged copy."),
		timeouts:    counter("timeouts_total", "Calls that hit the reply timeout."),
		stale:       counter("stale_replies_total", "Replies discarded for not matching the pending request."),
		stagedBytes: counter("staged_bytes_total", "Long-payload bytes copied through the copy window."),
		roundTrips: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "seclink",
			Subsystem: "mailbox",
			Name:      "round_trip_seconds",
			Help:      "Time from first request word to matching reply.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}

func (m *Metrics) frameSent(opcode uint8) {
	if m != nil {
		m.frames.WithLabelValues(strconv.Itoa(int(opcode))).Inc()
	}
}

func (m *Metrics) fault() {
	if m != nil {
		m.faults.Inc()
	}
}

func (m *Metrics) timeout() {
	if m != nil {
		m.timeouts.Inc()
	}
}

func (m *Metrics) staleReply() {
	if m != nil {
		m.stale.Inc()
	}
}

func (m *Metrics) staged(bytes int) {
	if m != nil {
		m.stagedBytes.Add(float64(bytes))
	}
}

func (m *Metrics) roundTrip(elapsed time.Duration) {
	if m != nil {
		m.roundTrips.Observe(elapsed.Seconds())
	}
}
