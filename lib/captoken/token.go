// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package captoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/seclink/lib/codec"
)

const signatureSize = ed25519.SignatureSize

// Token is the signed payload.
type Token struct {
	// Bundle is the key-value bundle the holder may access. Empty for
	// system components.
	Bundle string `cbor:"1,keyasint"`

	// Audience is the bus interface the token is scoped to, e.g.
	// "security". A token for one interface is refused by another.
	Audience string `cbor:"2,keyasint"`

	// ID identifies the token for revocation.
	ID string `cbor:"3,keyasint"`

	// IssuedAt and ExpiresAt are Unix timestamps in seconds.
	IssuedAt  int64 `cbor:"4,keyasint"`
	ExpiresAt int64 `cbor:"5,keyasint"`
}

var (
	ErrTokenTooShort    = errors.New("captoken: token too short for signature")
	ErrInvalidSignature = errors.New("captoken: invalid Ed25519 signature")
	ErrTokenExpired     = errors.New("captoken: token has expired")
	ErrAudienceMismatch = errors.New("captoken: audience does not match")
	ErrTokenRevoked     = errors.New("captoken: token has been revoked")
)

// NewID returns a random 128-bit token id in hex.
func NewID() (string, error) {
	var id [16]byte
	if _, err := rand.Read(id[:]); err != nil {
		return "", fmt.Errorf("captoken: generating token id: %w", err)
	}
	return hex.EncodeToString(id[:]), nil
}

// Mint signs token and returns its wire form.
func Mint(privateKey ed25519.PrivateKey, token *Token) ([]byte, error) {
	payload, err := codec.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("captoken: encoding token payload: %w", err)
	}
	signature := ed25519.Sign(privateKey, payload)
	result := make([]byte, 0, len(payload)+signatureSize)
	result = append(result, payload...)
	return append(result, signature...), nil
}

// VerifyAt checks the signature and expiry of a wire-form token as of
// now and returns the payload.
func VerifyAt(publicKey ed25519.PublicKey, tokenBytes []byte, now time.Time) (*Token, error) {
	if len(tokenBytes) <= signatureSize {
		return nil, ErrTokenTooShort
	}
	splitPoint := len(tokenBytes) - signatureSize
	payload, signature := tokenBytes[:splitPoint], tokenBytes[splitPoint:]
	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var token Token
	if err := codec.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("captoken: decoding token payload: %w", err)
	}
	if now.Unix() >= token.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &token, nil
}

// VerifyForAudienceAt is VerifyAt plus an audience check.
func VerifyForAudienceAt(publicKey ed25519.PublicKey, tokenBytes []byte, audience string, now time.Time) (*Token, error) {
	token, err := VerifyAt(publicKey, tokenBytes, now)
	if err != nil {
		return nil, err
	}
	if token.Audience != audience {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrAudienceMismatch, token.Audience, audience)
	}
	return token, nil
}
