// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package captoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privateKeyFile = "token-signing-key"
	publicKeyFile  = "token-signing-key.pub"
)

// GenerateKeypair creates a new Ed25519 signing keypair.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// SaveKeypair writes a keypair into dir: the private key 0600, the
// public key 0644.
func SaveKeypair(dir string, public ed25519.PublicKey, private ed25519.PrivateKey) error {
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), private, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), public, 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// LoadPublicKey reads the public key from dir.
func LoadPublicKey(dir string) (ed25519.PublicKey, error) {
	publicBytes, err := os.ReadFile(filepath.Join(dir, publicKeyFile))
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	if len(publicBytes) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(publicBytes), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(publicBytes), nil
}

// LoadKeypair reads a keypair from dir.
func LoadKeypair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	privateBytes, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	if err != nil {
		return nil, nil, fmt.Errorf("reading private key: %w", err)
	}
	if len(privateBytes) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("private key has %d bytes, want %d", len(privateBytes), ed25519.PrivateKeySize)
	}
	public, err := LoadPublicKey(dir)
	if err != nil {
		return nil, nil, err
	}
	return public, ed25519.PrivateKey(privateBytes), nil
}

// LoadOrGenerateKeypair loads the keypair in dir, or generates and
// saves one if there is none. It reports whether the keypair is new.
// A private key file that exists but cannot be loaded is an error.
func LoadOrGenerateKeypair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, bool, error) {
	public, private, err := LoadKeypair(dir)
	if err == nil {
		return public, private, false, nil
	}
	if _, statErr := os.Stat(filepath.Join(dir, privateKeyFile)); statErr == nil {
		return nil, nil, false, err
	}

	public, private, err = GenerateKeypair()
	if err != nil {
		return nil, nil, false, err
	}
	if err := SaveKeypair(dir, public, private); err != nil {
		return nil, nil, false, err
	}
	return public, private, true, nil
}
