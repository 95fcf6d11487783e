// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package seccoord is the security coordinator: the bus server that
// components call for builtin files and per-bundle secrets.
//
// A [Coordinator] registers one handler per protocol opcode on a
// [capbus.Server]. Each handler decodes the request, checks it against
// the caller's bundle binding, and forwards the encoded request to the
// Security Core unchanged. Clients attached with a bundle label may
// only name their own bundle; unlabelled clients are system
// components and may name any bundle.
//
// Package operations never reach the Security Core as such. The
// coordinator keeps a registry of loaded bundles: LoadApplication
// promotes a builtin into it, found under its name or with ".app"
// appended, and GetPackages lists the registry together with the
// builtins. Loaded contents are read back with GetFilePage.
//
// [Client] is the typed caller side, over an in-process bus client or
// a socket client.
package seccoord
