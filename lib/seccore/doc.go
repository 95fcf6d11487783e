// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package seccore is the Security Core: the request handler that owns
// builtin files and per-bundle secrets, and the backends through which
// the security coordinator reaches it.
//
// [Firmware] answers encoded [secproto] requests from a builtin
// [Archive] and a [KeyStore]. Two backends carry requests to it:
//
//   - emulated: the firmware runs in process and requests are handed
//     to it directly.
//   - hardware: requests travel as mailbox frames through a
//     [mailbox.Transport]; page-sized replies come back as long frames
//     through the staged copy.
//
// Both backends go through the same Firmware, so limits, statuses and
// reply bytes are identical. [Open] selects exactly one backend from
// a [Config]; the choice is fixed for the life of the returned [Core].
//
// Key store values are sealed at rest (see [Sealer]) under per-bundle
// keys derived from a root key held in locked memory.
package seccore
