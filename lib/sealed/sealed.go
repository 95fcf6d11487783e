// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/seclink/lib/region"
)

// Keypair is an age x25519 identity and its public recipient string.
type Keypair struct {
	// Identity is the AGE-SECRET-KEY-1... string in locked memory.
	Identity *region.Locked

	// Recipient is the age1... public key. Safe to publish.
	Recipient string
}

// Close releases the identity memory. Idempotent.
func (k *Keypair) Close() error {
	if k.Identity != nil {
		return k.Identity.Close()
	}
	return nil
}

// GenerateKeypair generates a new x25519 identity.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}
	locked, err := region.LockedFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting identity: %w", err)
	}
	return &Keypair{Identity: locked, Recipient: identity.Recipient().String()}, nil
}

// Seal encrypts plaintext to every recipient and returns armored
// ciphertext.
func Seal(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	armored := armor.NewWriter(&ciphertext)
	writer, err := age.Encrypt(armored, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return ciphertext.Bytes(), nil
}

// Open decrypts ciphertext, armored or binary, with identity. The
// identity is borrowed, not closed. The caller owns the returned
// buffer.
func Open(ciphertext []byte, identity *region.Locked) (*region.Locked, error) {
	parsed, err := age.ParseX25519Identity(string(identity.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}

	var source io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(bytes.TrimSpace(ciphertext), []byte(armor.Header)) {
		source = armor.NewReader(source)
	}
	reader, err := age.Decrypt(source, parsed)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		clear(plaintext)
		return nil, fmt.Errorf("reading plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("sealed payload is empty")
	}
	locked, err := region.LockedFromBytes(plaintext)
	if err != nil {
		clear(plaintext)
		return nil, fmt.Errorf("protecting plaintext: %w", err)
	}
	return locked, nil
}

// ParseRecipient validates an age x25519 public key.
func ParseRecipient(recipient string) error {
	if _, err := age.ParseX25519Recipient(recipient); err != nil {
		return fmt.Errorf("invalid age recipient: %w", err)
	}
	return nil
}
