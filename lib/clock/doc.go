// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the mailbox
// transport's reply timeout and by attach-token expiry checks.
//
// Production code takes a [Clock] and is handed [Real]. Tests hand it a
// [FakeClock], which stands still until [FakeClock.Advance] is called.
// Because a goroutine arms its timer at some point after the test
// starts it, tests call [FakeClock.WaitForTimers] before advancing:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	transport := mailbox.New(device, memory, mailbox.Config{
//	    ReplyTimeout: time.Second,
//	    Clock:        fake,
//	})
//	go transport.Call(ctx, frame)
//	fake.WaitForTimers(1)
//	fake.Advance(time.Second)
package clock
