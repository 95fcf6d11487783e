// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for seclink packages.
//
// [RequireReceive] and [RequireClosed] wrap the
// select-with-timeout pattern so individual tests never call time.After
// themselves. They are the only place real wall-clock timeouts appear
// in the test suite, and they exist only to turn a deadlock into a
// test failure.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// since t.TempDir() paths can exceed the 108-byte sun_path limit.
//
// [RequireBlocked] is the negative check: it fails if a channel
// delivers within a short wait.
package testutil
