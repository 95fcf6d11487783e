// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the entrypoint error handler for seclink
// binaries. [Fatal] is the one place a binary writes to stderr outside
// its logger: errors from run() that may precede logger setup.
package process
