// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package captoken implements Ed25519-signed capability tokens that
// bind a socket connection to a key-value bundle.
//
// Components outside the coordinator process reach the security bus
// through a Unix socket. A connection has no kernel-attached identity,
// so the first thing it presents is a token minted by the holder of
// the signing key. The coordinator verifies the token and attaches the
// connection with the token's bundle as its label; from then on the
// bus binds every call on that connection to the bundle.
//
// # Wire format
//
// A token is a CBOR payload followed by a 64-byte Ed25519 signature
// over the payload bytes:
//
//	[CBOR payload bytes] [64-byte Ed25519 signature]
//
// A token with an empty Bundle attaches a system client, which may
// name any bundle.
package captoken
