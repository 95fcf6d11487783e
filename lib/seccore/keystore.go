// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccore

import (
	"context"
	"sync"

	"github.com/bureau-foundation/seclink/lib/secproto"
)

// KeyStore holds the per-bundle key-value stores. Failures a client
// can act on are *secproto.BackendError values: KeyNotFound,
// BundleNotFound. Callers validate names and value sizes first.
type KeyStore interface {
	ReadKey(ctx context.Context, bundle, key string) ([]byte, error)

	// WriteKey creates the bundle's store if it does not exist.
	WriteKey(ctx context.Context, bundle, key string, value []byte) error

	// DeleteKey succeeds if the key is already absent, provided the
	// bundle exists.
	DeleteKey(ctx context.Context, bundle, key string) error

	DeleteBundle(ctx context.Context, bundle string) error

	Close() error
}

// MemoryStore is a KeyStore held in process memory. If it has a
// Sealer, values are kept sealed and opened on read.
type MemoryStore struct {
	sealer *Sealer

	mu      sync.RWMutex
	bundles map[string]map[string][]byte
}

var _ KeyStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store. sealer may be nil; if not,
// the store takes ownership of it.
func NewMemoryStore(sealer *Sealer) *MemoryStore {
	return &MemoryStore{sealer: sealer, bundles: make(map[string]map[string][]byte)}
}

func (s *MemoryStore) ReadKey(ctx context.Context, bundle, key string) ([]byte, error) {
	s.mu.RLock()
	entries, exists := s.bundles[bundle]
	stored, found := entries[key]
	s.mu.RUnlock()
	if !exists {
		return nil, secproto.Fail(secproto.OpReadKey, secproto.StatusBundleNotFound, "bundle %q", bundle)
	}
	if !found {
		return nil, secproto.Fail(secproto.OpReadKey, secproto.StatusKeyNotFound, "key %q in bundle %q", key, bundle)
	}
	return openValue(s.sealer, bundle, key, stored)
}

func (s *MemoryStore) WriteKey(ctx context.Context, bundle, key string, value []byte) error {
	stored, err := sealValue(s.sealer, bundle, key, value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, exists := s.bundles[bundle]
	if !exists {
		entries = make(map[string][]byte)
		s.bundles[bundle] = entries
	}
	entries[key] = stored
	return nil
}

func (s *MemoryStore) DeleteKey(ctx context.Context, bundle, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, exists := s.bundles[bundle]
	if !exists {
		return secproto.Fail(secproto.OpDeleteKey, secproto.StatusBundleNotFound, "bundle %q", bundle)
	}
	delete(entries, key)
	return nil
}

func (s *MemoryStore) DeleteBundle(ctx context.Context, bundle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bundles[bundle]; !exists {
		return secproto.Fail(secproto.OpDeleteBundle, secproto.StatusBundleNotFound, "bundle %q", bundle)
	}
	delete(s.bundles, bundle)
	return nil
}

// Close drops every bundle and zeroes the sealer's root key.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.bundles = make(map[string]map[string][]byte)
	s.mu.Unlock()
	if s.sealer != nil {
		return s.sealer.Close()
	}
	return nil
}

func sealValue(sealer *Sealer, bundle, key string, value []byte) ([]byte, error) {
	if sealer == nil {
		return append([]byte(nil), value...), nil
	}
	return sealer.Seal(bundle, key, value)
}

func openValue(sealer *Sealer, bundle, key string, stored []byte) ([]byte, error) {
	if sealer == nil {
		return append([]byte(nil), stored...), nil
	}
	value, err := sealer.Open(bundle, key, stored)
	if err != nil {
		return nil, secproto.Fail(secproto.OpReadKey, secproto.StatusUnknownError, "%v", err)
	}
	return value, nil
}
