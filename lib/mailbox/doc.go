// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mailbox carries request/reply frames to the Security Core
// over a word-wide hardware FIFO.
//
// The link has two FIFOs (outbox toward the Security Core, inbox back)
// and three interrupt lines: write-space (the peer drained the outbox),
// read-data (the inbox holds words) and error (a FIFO overflow,
// underflow or desync). Each line is a one-shot notification that must
// be re-armed with Ack after handling. The [Device] interface captures
// exactly that surface; [SimDevice] implements it in memory.
//
// A [Transport] owns one device and turns it into a synchronous
// [Transport.Call]:
//
//	Idle → Sending → AwaitingReply → Idle
//	Idle → Sending → Faulted → Idle          (error line fired)
//
// Only one frame exchange is ever in flight. Callers queue on the
// transport lock, which is held for the whole round trip, so calls
// complete in the order they acquired the lock.
//
// Interrupt handling is split across two goroutines. The read-data
// handler has its own goroutine because it may perform a staged copy:
// it drains inbox words, assembles frames, copies long payloads out of
// Security Core memory one page at a time through the transport's copy
// window, queues each finished frame and posts the [Semaphore] once.
// The write-space and error lines share a second dispatch goroutine.
// The caller blocked in Call waits on the semaphore; posts persist, so
// a reply that lands before the caller starts waiting is never lost.
//
// A fault is reported as [ErrTransportFault]; the transport flushes
// both FIFOs and returns to Idle without retrying, because a partially
// applied Security Core operation may not be safe to resubmit. The
// reply timeout ([Config.ReplyTimeout]) and the optional circuit
// breaker are the only other ways a call ends without a reply.
package mailbox
