// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Seclink-coordinator serves the Security Core to local clients. It
// opens the configured backend (emulated or mailbox hardware), puts a
// capability bus in front of it, and accepts clients on a Unix socket.
// Each client attaches with a signed token naming the key bundle it may
// use; tokenless clients are system clients when auth is not required.
package main
