// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package region

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Locked holds key material in memory that is outside the Go heap,
// locked against swap, excluded from core dumps, and zeroed on Close.
type Locked struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// NewLocked allocates a zero-filled locked region of size bytes.
func NewLocked(size int) (*Locked, error) {
	if size <= 0 {
		return nil, fmt.Errorf("region: locked size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("region: mmap failed: %w", err)
	}
	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("region: mlock failed: %w", err)
	}
	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(data)
		unix.Munmap(data)
		return nil, fmt.Errorf("region: madvise(MADV_DONTDUMP) failed: %w", err)
	}
	return &Locked{data: data}, nil
}

// LockedFromBytes copies source into a new locked region and zeroes
// source.
func LockedFromBytes(source []byte) (*Locked, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("region: cannot lock empty source")
	}
	locked, err := NewLocked(len(source))
	if err != nil {
		return nil, err
	}
	copy(locked.data, source)
	clear(source)
	return locked, nil
}

// Bytes returns the locked memory. Panics after Close.
func (l *Locked) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		panic("region: read from closed locked region")
	}
	return l.data
}

// Len returns the region size, or zero after Close.
func (l *Locked) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.data)
}

// Close zeroes, unlocks and unmaps the region. Close is idempotent.
func (l *Locked) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	clear(l.data)

	var firstError error
	if err := unix.Munlock(l.data); err != nil {
		firstError = fmt.Errorf("region: munlock failed: %w", err)
	}
	if err := unix.Munmap(l.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("region: munmap failed: %w", err)
	}
	l.data = nil
	return firstError
}
