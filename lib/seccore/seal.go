// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccore

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/seclink/lib/region"
)

// RootKeySize is the size of the key store root key.
const RootKeySize = 32

// sealedVersion prefixes every sealed value and is authenticated with
// it.
const sealedVersion byte = 0x01

// SealedOverhead is the bytes a sealed value adds: version, nonce and
// Poly1305 tag.
const SealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var hkdfInfoBundle = []byte("seclink.keystore.bundle.v1")

// Sealer encrypts key store values under per-bundle keys derived from
// a root key. Each value is bound to its bundle and key name, so a
// sealed value copied to another slot fails to open.
type Sealer struct {
	root *region.Locked
}

// NewSealer takes ownership of root, which must be RootKeySize bytes.
func NewSealer(root *region.Locked) (*Sealer, error) {
	if root.Len() != RootKeySize {
		return nil, fmt.Errorf("seccore: root key is %d bytes, want %d", root.Len(), RootKeySize)
	}
	return &Sealer{root: root}, nil
}

// GenerateRootKey returns a fresh random root key in locked memory.
func GenerateRootKey() (*region.Locked, error) {
	key, err := region.NewLocked(RootKeySize)
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rand.Reader, key.Bytes()); err != nil {
		key.Close()
		return nil, fmt.Errorf("generating root key: %w", err)
	}
	return key, nil
}

// Seal encrypts value for (bundle, key):
//
//	[version: 1] [nonce: 24] [ciphertext + tag]
func (s *Sealer) Seal(bundle, key string, value []byte) ([]byte, error) {
	aead, err := s.bundleAEAD(bundle)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 1+chacha20poly1305.NonceSizeX, SealedOverhead+len(value))
	sealed[0] = sealedVersion
	if _, err := io.ReadFull(rand.Reader, sealed[1:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(sealed, sealed[1:], value, slotAAD(bundle, key)), nil
}

// Open decrypts a value sealed for (bundle, key).
func (s *Sealer) Open(bundle, key string, sealed []byte) ([]byte, error) {
	if len(sealed) < SealedOverhead || sealed[0] != sealedVersion {
		return nil, fmt.Errorf("seccore: sealed value for %s/%s is malformed", bundle, key)
	}
	aead, err := s.bundleAEAD(bundle)
	if err != nil {
		return nil, err
	}
	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	value, err := aead.Open(nil, nonce, sealed[1+chacha20poly1305.NonceSizeX:], slotAAD(bundle, key))
	if err != nil {
		return nil, fmt.Errorf("seccore: opening %s/%s: %w", bundle, key, err)
	}
	return value, nil
}

// Close zeroes the root key.
func (s *Sealer) Close() error {
	return s.root.Close()
}

func (s *Sealer) bundleAEAD(bundle string) (cipher.AEAD, error) {
	bundleHash := blake3.Sum256([]byte(bundle))
	info := make([]byte, 0, len(hkdfInfoBundle)+len(bundleHash))
	info = append(info, hkdfInfoBundle...)
	info = append(info, bundleHash[:]...)

	derived, err := region.NewLocked(chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer derived.Close()
	reader := hkdf.New(sha256.New, s.root.Bytes(), nil, info)
	if _, err := io.ReadFull(reader, derived.Bytes()); err != nil {
		return nil, fmt.Errorf("deriving bundle key: %w", err)
	}
	// The AEAD keeps its own copy of the key schedule.
	aead, err := chacha20poly1305.NewX(derived.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return aead, nil
}

// slotAAD binds a sealed value to its version, bundle and key.
func slotAAD(bundle, key string) []byte {
	hasher := blake3.New()
	hasher.Write([]byte(bundle))
	hasher.Write([]byte{0})
	hasher.Write([]byte(key))
	aad := make([]byte, 0, 1+32)
	aad = append(aad, sealedVersion)
	return hasher.Sum(aad)
}
