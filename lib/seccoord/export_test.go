// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccoord

import "github.com/prometheus/client_golang/prometheus"

// RequestCounter exposes one requests_total series to tests.
func RequestCounter(m *Metrics, opcode, status string) prometheus.Collector {
	return m.requests.WithLabelValues(opcode, status)
}

// LinkFailureCounter exposes one link_failures_total series to tests.
func LinkFailureCounter(m *Metrics, opcode string) prometheus.Collector {
	return m.linkFailures.WithLabelValues(opcode)
}
