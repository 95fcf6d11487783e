// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package captoken

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/seclink/lib/clock"
)

// Verifier checks attach tokens for one bus interface. Its
// Authenticate method has the shape of capbus.Authenticator.
type Verifier struct {
	PublicKey ed25519.PublicKey

	// Audience is the interface name tokens must be scoped to.
	Audience string

	// Clock supplies the time for expiry checks. Nil means
	// clock.Real().
	Clock clock.Clock

	// Blacklist, if set, refuses revoked tokens.
	Blacklist *Blacklist
}

// Authenticate verifies token and returns the bundle it binds the
// connection to. An empty token is refused.
func (v *Verifier) Authenticate(tokenBytes []byte) (string, error) {
	if len(tokenBytes) == 0 {
		return "", errors.New("captoken: attach token required")
	}
	token, err := VerifyForAudienceAt(v.PublicKey, tokenBytes, v.Audience, v.now())
	if err != nil {
		return "", err
	}
	if v.Blacklist != nil && v.Blacklist.IsRevoked(token.ID) {
		return "", fmt.Errorf("%w: %s", ErrTokenRevoked, token.ID)
	}
	return token.Bundle, nil
}

func (v *Verifier) now() time.Time {
	if v.Clock == nil {
		return clock.Real().Now()
	}
	return v.Clock.Now()
}

// Issuer mints tokens with a fixed signing key and lifetime.
type Issuer struct {
	PrivateKey ed25519.PrivateKey
	Audience   string
	TTL        time.Duration

	// Clock supplies IssuedAt. Nil means clock.Real().
	Clock clock.Clock
}

// Issue mints a token for bundle. An empty bundle mints a system token.
func (i *Issuer) Issue(bundle string) ([]byte, *Token, error) {
	id, err := NewID()
	if err != nil {
		return nil, nil, err
	}
	source := i.Clock
	if source == nil {
		source = clock.Real()
	}
	now := source.Now()
	token := &Token{
		Bundle:    bundle,
		Audience:  i.Audience,
		ID:        id,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(i.TTL).Unix(),
	}
	encoded, err := Mint(i.PrivateKey, token)
	if err != nil {
		return nil, nil, err
	}
	return encoded, token, nil
}
