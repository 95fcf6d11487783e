// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package region

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// PageSize is the granule of every window and of the mailbox copy
// window.
const PageSize = 4096

// Errors returned by the allocator.
var (
	ErrExhausted      = errors.New("region: no free windows")
	ErrAlreadyGranted = errors.New("region: owner already holds a window")
	ErrNotGranted     = errors.New("region: owner holds no window")
	ErrClosed         = errors.New("region: allocator closed")
)

// Owner names the holder of a window: one client attached to one
// interface.
type Owner struct {
	Client    uint64
	Interface string
}

func (o Owner) String() string {
	return fmt.Sprintf("%s#%d", o.Interface, o.Client)
}

// Window is a fixed-size region of memory granted to exactly one Owner.
type Window struct {
	owner   Owner
	slot    int
	data    []byte
	revoked atomic.Bool
}

// Owner returns the owner the window was granted to.
func (w *Window) Owner() Owner { return w.owner }

// Bytes returns the window's memory. The slice is only meaningful while
// the window is valid.
func (w *Window) Bytes() []byte { return w.data }

// Size returns the window length in bytes.
func (w *Window) Size() int { return len(w.data) }

// Valid reports whether the window is still granted.
func (w *Window) Valid() bool { return !w.revoked.Load() }

// BelongsTo reports whether the window is valid and granted to owner.
func (w *Window) BelongsTo(owner Owner) bool {
	return w.Valid() && w.owner == owner
}

// Config sizes an Allocator.
type Config struct {
	// Windows is the number of windows in the pool.
	Windows int

	// WindowSize is the size of each window. Must be a positive
	// multiple of PageSize. Defaults to PageSize.
	WindowSize int

	// Logger receives grant/revoke debug messages. Nil discards.
	Logger *slog.Logger
}

// Allocator hands out windows from a fixed pool.
type Allocator struct {
	mu         sync.Mutex
	memory     []byte
	windowSize int
	capacity   int
	free       []int
	granted    map[Owner]*Window
	closed     bool
	logger     *slog.Logger
}

// New maps the window pool. The caller must Close the allocator to
// unmap it.
func New(cfg Config) (*Allocator, error) {
	if cfg.Windows <= 0 {
		return nil, fmt.Errorf("region: window count must be positive, got %d", cfg.Windows)
	}
	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = PageSize
	}
	if windowSize < 0 || windowSize%PageSize != 0 {
		return nil, fmt.Errorf("region: window size %d is not a positive multiple of %d", windowSize, PageSize)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	memory, err := unix.Mmap(-1, 0, cfg.Windows*windowSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("region: mapping %d windows: %w", cfg.Windows, err)
	}

	free := make([]int, cfg.Windows)
	for index := range free {
		// Hand out low slots first.
		free[index] = cfg.Windows - 1 - index
	}

	return &Allocator{
		memory:     memory,
		windowSize: windowSize,
		capacity:   cfg.Windows,
		free:       free,
		granted:    make(map[Owner]*Window),
		logger:     logger,
	}, nil
}

// WindowSize returns the size of every window in the pool.
func (a *Allocator) WindowSize() int { return a.windowSize }

// Capacity returns the number of windows in the pool.
func (a *Allocator) Capacity() int { return a.capacity }

// Available returns the number of free windows.
func (a *Allocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

// Grant assigns a zeroed window to owner.
func (a *Allocator) Grant(owner Owner) (*Window, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	if _, exists := a.granted[owner]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyGranted, owner)
	}
	if len(a.free) == 0 {
		return nil, ErrExhausted
	}

	slot := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]

	start := slot * a.windowSize
	window := &Window{
		owner: owner,
		slot:  slot,
		data:  a.memory[start : start+a.windowSize : start+a.windowSize],
	}
	a.granted[owner] = window

	a.logger.Debug("window granted", "owner", owner.String(), "slot", slot)
	return window, nil
}

// Revoke invalidates owner's window, discards its contents and returns
// the slot to the pool.
func (a *Allocator) Revoke(owner Owner) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	window, exists := a.granted[owner]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotGranted, owner)
	}
	delete(a.granted, owner)
	window.revoked.Store(true)

	if !a.closed {
		// Anonymous private pages read back as zero after DONTNEED.
		if err := unix.Madvise(window.data, unix.MADV_DONTNEED); err != nil {
			clear(window.data)
		}
		a.free = append(a.free, window.slot)
	}

	a.logger.Debug("window revoked", "owner", owner.String(), "slot", window.slot)
	return nil
}

// Lookup returns owner's current window.
func (a *Allocator) Lookup(owner Owner) (*Window, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	window, ok := a.granted[owner]
	return window, ok
}

// Close revokes every window and unmaps the pool. Close is idempotent.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	for owner, window := range a.granted {
		window.revoked.Store(true)
		delete(a.granted, owner)
	}
	a.free = nil

	if err := unix.Munmap(a.memory); err != nil {
		return fmt.Errorf("region: unmapping pool: %w", err)
	}
	a.memory = nil
	return nil
}
