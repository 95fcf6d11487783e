// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed protects the key store root key at rest with age.
//
// The root key file on disk is age ciphertext (ASCII armored) encrypted
// to one or more x25519 recipients. The coordinator holds the matching
// identity in a [region.Locked] buffer and [Open]s the root key into
// another Locked buffer at startup; neither ever lives on the Go heap
// longer than the parse call that needs it.
//
// Key exports:
//
//   - [GenerateKeypair]: new x25519 identity in locked memory
//   - [Seal]: encrypt plaintext to recipient public keys
//   - [Open]: decrypt with a locked identity into locked memory
//   - [ParseRecipient]: validate an age1... public key
package sealed
