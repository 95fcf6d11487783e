// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations seclink needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTimer returns a Timer that delivers the current time on C
	// once d has elapsed. If d <= 0 the timer fires immediately.
	NewTimer(d time.Duration) *Timer

	// After is shorthand for NewTimer(d).C for callers that never
	// stop the timer.
	After(d time.Duration) <-chan time.Time
}

// Timer is a one-shot timer. C has capacity 1.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the timer from firing. It reports whether the call
// stopped the timer; false means it had already fired or been stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) *Timer {
	timer := time.NewTimer(d)
	return &Timer{C: timer.C, stop: timer.Stop}
}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
