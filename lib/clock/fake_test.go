// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeTimerFiresOnAdvance(t *testing.T) {
	fake := Fake(epoch)
	timer := fake.NewTimer(3 * time.Second)

	fake.Advance(2 * time.Second)
	select {
	case <-timer.C:
		t.Fatal("timer fired before its deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case fired := <-timer.C:
		if want := epoch.Add(3 * time.Second); !fired.Equal(want) {
			t.Errorf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("timer did not fire at its deadline")
	}
	if fake.PendingCount() != 0 {
		t.Errorf("PendingCount = %d after firing, want 0", fake.PendingCount())
	}
}

func TestFakeTimerStop(t *testing.T) {
	fake := Fake(epoch)
	timer := fake.NewTimer(time.Second)
	if !timer.Stop() {
		t.Fatal("Stop on an armed timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}
	fake.Advance(time.Hour)
	select {
	case <-timer.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeTimerNonPositiveFiresImmediately(t *testing.T) {
	fake := Fake(epoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
	if fake.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", fake.PendingCount())
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	fake := Fake(epoch)
	fired := make(chan struct{})
	go func() {
		<-fake.After(5 * time.Second)
		close(fired)
	}()

	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)

	select {
	case <-fired:
	case <-time.After(5 * time.Second): //nolint:realclock test hang prevention
		t.Fatal("goroutine waiting on After never woke")
	}
}

func TestFakeNow(t *testing.T) {
	fake := Fake(epoch)
	fake.Advance(90 * time.Second)
	if got, want := fake.Now(), epoch.Add(90*time.Second); !got.Equal(want) {
		t.Fatalf("Now = %v, want %v", got, want)
	}
}
