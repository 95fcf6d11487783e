// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccore

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/bureau-foundation/seclink/lib/region"
	"github.com/bureau-foundation/seclink/lib/sealed"
)

// Root key files hold the key as hex digits and a trailing newline,
// either in the clear or age-encrypted to an operator identity.

// EncodeRootKey returns the file form of key.
func EncodeRootKey(key *region.Locked) (*region.Locked, error) {
	if key.Len() != RootKeySize {
		return nil, fmt.Errorf("seccore: root key is %d bytes, want %d", key.Len(), RootKeySize)
	}
	text, err := region.NewLocked(hex.EncodedLen(RootKeySize) + 1)
	if err != nil {
		return nil, err
	}
	hex.Encode(text.Bytes(), key.Bytes())
	text.Bytes()[text.Len()-1] = '\n'
	return text, nil
}

// DecodeRootKey parses the file form of a root key. Surrounding
// whitespace is ignored.
func DecodeRootKey(text []byte) (*region.Locked, error) {
	text = bytes.TrimSpace(text)
	if len(text) != hex.EncodedLen(RootKeySize) {
		return nil, fmt.Errorf("seccore: root key must be %d hex digits, got %d characters",
			hex.EncodedLen(RootKeySize), len(text))
	}
	key, err := region.NewLocked(RootKeySize)
	if err != nil {
		return nil, err
	}
	if _, err := hex.Decode(key.Bytes(), text); err != nil {
		key.Close()
		return nil, fmt.Errorf("seccore: root key: %w", err)
	}
	return key, nil
}

// LoadRootKey reads the root key at path. When identityPath is set
// the file is age ciphertext for that identity.
func LoadRootKey(path, identityPath string) (*region.Locked, error) {
	if identityPath == "" {
		text, err := region.ReadLocked(path)
		if err != nil {
			return nil, fmt.Errorf("reading root key: %w", err)
		}
		defer text.Close()
		return DecodeRootKey(text.Bytes())
	}

	identity, err := region.ReadLocked(identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading age identity: %w", err)
	}
	defer identity.Close()

	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading root key: %w", err)
	}
	text, err := sealed.Open(ciphertext, identity)
	if err != nil {
		return nil, fmt.Errorf("opening root key %s: %w", path, err)
	}
	defer text.Close()
	return DecodeRootKey(text.Bytes())
}
