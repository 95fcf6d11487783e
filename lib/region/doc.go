// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package region allocates the shared memory windows that carry bus
// call payloads between a client and a server.
//
// An [Allocator] owns a fixed pool of equally sized windows carved out
// of one anonymous mmap region. [Allocator.Grant] hands one window to an
// [Owner] (a client attached to an interface); [Allocator.Revoke] takes
// it back, zeroes it with MADV_DONTNEED and returns the slot to the
// pool. The pool never grows, so a component that attaches too many
// clients gets [ErrExhausted] instead of unbounded memory use.
//
// A granted [Window] remembers its owner and is invalidated by revoke.
// The capability bus uses both facts to reject a call whose window does
// not belong to the calling identity.
//
// [Locked] is the second kind of region the package hands out: a small
// buffer outside the Go heap, locked against swap and excluded from
// core dumps, used for the Security Core's root sealing key.
package region
