// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package region

import (
	"errors"
	"testing"
)

func newAllocator(t *testing.T, windows int) *Allocator {
	t.Helper()
	allocator, err := New(Config{Windows: windows})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { allocator.Close() })
	return allocator
}

func TestGrantGivesDistinctZeroedWindows(t *testing.T) {
	allocator := newAllocator(t, 2)

	first, err := allocator.Grant(Owner{Client: 1, Interface: "security"})
	if err != nil {
		t.Fatalf("Grant first: %v", err)
	}
	second, err := allocator.Grant(Owner{Client: 2, Interface: "security"})
	if err != nil {
		t.Fatalf("Grant second: %v", err)
	}

	if first.Size() != PageSize || second.Size() != PageSize {
		t.Fatalf("window sizes = %d, %d; want %d", first.Size(), second.Size(), PageSize)
	}
	first.Bytes()[0] = 0xAA
	if second.Bytes()[0] != 0 {
		t.Fatal("write to one window is visible in another")
	}
	if allocator.Available() != 0 {
		t.Errorf("Available = %d, want 0", allocator.Available())
	}
}

func TestGrantExhausted(t *testing.T) {
	allocator := newAllocator(t, 1)
	if _, err := allocator.Grant(Owner{Client: 1}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := allocator.Grant(Owner{Client: 2}); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Grant on full pool: got %v, want ErrExhausted", err)
	}
}

func TestGrantTwiceToSameOwner(t *testing.T) {
	allocator := newAllocator(t, 2)
	owner := Owner{Client: 7, Interface: "security"}
	if _, err := allocator.Grant(owner); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := allocator.Grant(owner); !errors.Is(err, ErrAlreadyGranted) {
		t.Fatalf("second Grant: got %v, want ErrAlreadyGranted", err)
	}
}

func TestRevokeInvalidatesAndRecycles(t *testing.T) {
	allocator := newAllocator(t, 1)
	owner := Owner{Client: 1, Interface: "security"}

	window, err := allocator.Grant(owner)
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	copy(window.Bytes(), "stale request")
	if !window.BelongsTo(owner) {
		t.Fatal("fresh window does not belong to its owner")
	}

	if err := allocator.Revoke(owner); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if window.Valid() || window.BelongsTo(owner) {
		t.Fatal("revoked window still reports valid")
	}
	if err := allocator.Revoke(owner); !errors.Is(err, ErrNotGranted) {
		t.Fatalf("second Revoke: got %v, want ErrNotGranted", err)
	}

	next, err := allocator.Grant(Owner{Client: 2, Interface: "security"})
	if err != nil {
		t.Fatalf("Grant after revoke: %v", err)
	}
	for index, value := range next.Bytes()[:16] {
		if value != 0 {
			t.Fatalf("recycled window byte %d = %#x, want 0", index, value)
		}
	}
	if next.BelongsTo(owner) {
		t.Fatal("recycled window belongs to the previous owner")
	}
}

func TestNewRejectsBadSizes(t *testing.T) {
	if _, err := New(Config{Windows: 0}); err == nil {
		t.Error("New accepted zero windows")
	}
	if _, err := New(Config{Windows: 1, WindowSize: 100}); err == nil {
		t.Error("New accepted a window size that is not a page multiple")
	}
}

func TestCloseInvalidatesGrants(t *testing.T) {
	allocator, err := New(Config{Windows: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	window, err := allocator.Grant(Owner{Client: 1})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := allocator.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if window.Valid() {
		t.Fatal("window valid after Close")
	}
	if _, err := allocator.Grant(Owner{Client: 2}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Grant after Close: got %v, want ErrClosed", err)
	}
	if err := allocator.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
