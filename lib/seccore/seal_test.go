// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccore_test

import (
	"bytes"
	"testing"

	"github.com/bureau-foundation/seclink/lib/region"
	"github.com/bureau-foundation/seclink/lib/seccore"
)

func newSealer(t *testing.T) *seccore.Sealer {
	t.Helper()
	root, err := seccore.GenerateRootKey()
	if err != nil {
		t.Fatalf("GenerateRootKey: %v", err)
	}
	sealer, err := seccore.NewSealer(root)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	t.Cleanup(func() { sealer.Close() })
	return sealer
}

func TestSealerRoundTrip(t *testing.T) {
	sealer := newSealer(t)
	value := []byte("device pairing secret")

	sealed, err := sealer.Seal("app1", "token", value)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(sealed) != len(value)+seccore.SealedOverhead {
		t.Errorf("sealed length = %d, want %d", len(sealed), len(value)+seccore.SealedOverhead)
	}
	if bytes.Contains(sealed, value) {
		t.Error("sealed value contains the plaintext")
	}
	opened, err := sealer.Open("app1", "token", sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, value) {
		t.Errorf("Open = %q, want %q", opened, value)
	}

	again, err := sealer.Seal("app1", "token", value)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Equal(again, sealed) {
		t.Error("two seals of the same value are identical")
	}
}

func TestSealerBindsSlot(t *testing.T) {
	sealer := newSealer(t)
	sealed, err := sealer.Seal("app1", "token", []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	for _, slot := range [][2]string{{"app2", "token"}, {"app1", "other"}, {"app1t", "oken"}} {
		if _, err := sealer.Open(slot[0], slot[1], sealed); err == nil {
			t.Errorf("Open as %s/%s succeeded", slot[0], slot[1])
		}
	}

	tampered := bytes.Clone(sealed)
	tampered[len(tampered)-1] ^= 1
	if _, err := sealer.Open("app1", "token", tampered); err == nil {
		t.Error("Open of a tampered value succeeded")
	}
	if _, err := sealer.Open("app1", "token", sealed[:10]); err == nil {
		t.Error("Open of a truncated value succeeded")
	}
}

func TestSealerKeysDiffer(t *testing.T) {
	first, second := newSealer(t), newSealer(t)
	sealed, err := first.Seal("app1", "k", []byte("v"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := second.Open("app1", "k", sealed); err == nil {
		t.Error("a different root key opened the value")
	}
}

func TestNewSealerRejectsShortKey(t *testing.T) {
	short, err := region.NewLocked(16)
	if err != nil {
		t.Fatalf("NewLocked: %v", err)
	}
	defer short.Close()
	if _, err := seccore.NewSealer(short); err == nil {
		t.Error("NewSealer accepted a 16-byte key")
	}
}
