// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultSimDepth is the FIFO depth of a SimDevice when none is given.
const DefaultSimDepth = 64

// ErrLinkReset is returned by the peer side of a SimDevice once after
// every host Flush. Whatever frame the peer was reading or writing is
// gone; it must start again from a header.
var ErrLinkReset = errors.New("mailbox: link reset by host")

// SimDevice is an in-memory mailbox: two bounded word FIFOs and three
// level-sensitive interrupt lines. The host side is the Device
// interface; the Security Core side is PeerRead, PeerWrite and
// InjectError.
//
// A line fires when it is enabled, armed, and its condition holds
// (outbox has room, inbox has words, error register set). Firing
// disarms it until Ack.
type SimDevice struct {
	mu      sync.Mutex
	depth   int
	outbox  []uint32
	inbox   []uint32
	status  ErrorStatus
	lines   [3]*simLine
	changed chan struct{}

	// resets counts host flushes; peerResets is the count the peer has
	// been told about.
	resets     uint64
	peerResets uint64
}

var _ Device = (*SimDevice)(nil)

// NewSimDevice returns a device whose FIFOs each hold depth words.
// depth <= 0 means DefaultSimDepth.
func NewSimDevice(depth int) *SimDevice {
	if depth <= 0 {
		depth = DefaultSimDepth
	}
	d := &SimDevice{depth: depth, changed: make(chan struct{})}
	for index := range d.lines {
		d.lines[index] = &simLine{device: d, irq: IRQ(index), c: make(chan struct{}, 1), armed: true}
	}
	return d
}

// Depth returns the capacity of each FIFO in words.
func (d *SimDevice) Depth() int { return d.depth }

// TryWrite implements Device.
func (d *SimDevice) TryWrite(word uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.outbox) >= d.depth {
		return false
	}
	d.outbox = append(d.outbox, word)
	d.updateLocked()
	return true
}

// TryRead implements Device.
func (d *SimDevice) TryRead() (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.inbox) == 0 {
		return 0, false
	}
	word := d.inbox[0]
	d.inbox = d.inbox[1:]
	d.updateLocked()
	return word, true
}

// Line implements Device.
func (d *SimDevice) Line(irq IRQ) InterruptLine {
	return d.lines[irq]
}

// ErrorStatus implements Device.
func (d *SimDevice) ErrorStatus() ErrorStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := d.status
	d.status = ErrorStatus{}
	return status
}

// Flush implements Device. The peer sees ErrLinkReset on its next
// read or write.
func (d *SimDevice) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outbox = nil
	d.inbox = nil
	d.resets++
	d.updateLocked()
}

// Resets returns the number of host flushes so far.
func (d *SimDevice) Resets() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

func (d *SimDevice) peerResetLocked() bool {
	if d.peerResets == d.resets {
		return false
	}
	d.peerResets = d.resets
	return true
}

// PeerRead takes the next word the host wrote, blocking until one is
// available or ctx ends. It returns ErrLinkReset instead if the host
// has flushed since the peer last looked.
func (d *SimDevice) PeerRead(ctx context.Context) (uint32, error) {
	for {
		d.mu.Lock()
		if d.peerResetLocked() {
			d.mu.Unlock()
			return 0, ErrLinkReset
		}
		if len(d.outbox) > 0 {
			word := d.outbox[0]
			d.outbox = d.outbox[1:]
			d.updateLocked()
			d.mu.Unlock()
			return word, nil
		}
		changed := d.changed
		d.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// PeerWrite hands one word to the host, blocking while the inbox is
// full. Like PeerRead it reports a host flush with ErrLinkReset.
func (d *SimDevice) PeerWrite(ctx context.Context, word uint32) error {
	for {
		d.mu.Lock()
		if d.peerResetLocked() {
			d.mu.Unlock()
			return ErrLinkReset
		}
		if len(d.inbox) < d.depth {
			d.inbox = append(d.inbox, word)
			d.updateLocked()
			d.mu.Unlock()
			return nil
		}
		changed := d.changed
		d.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// InjectError sets bits in the error register, raising the error line.
func (d *SimDevice) InjectError(status ErrorStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Read = d.status.Read || status.Read
	d.status.Write = d.status.Write || status.Write
	d.updateLocked()
}

// Pending returns the number of words in the outbox and inbox.
func (d *SimDevice) Pending() (outbox, inbox int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.outbox), len(d.inbox)
}

// updateLocked wakes blocked peer calls and fires any line whose
// condition now holds. d.mu must be held.
func (d *SimDevice) updateLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
	for _, line := range d.lines {
		line.evaluateLocked()
	}
}

func (d *SimDevice) conditionLocked(irq IRQ) bool {
	switch irq {
	case IRQWriteSpace:
		return len(d.outbox) < d.depth
	case IRQReadData:
		return len(d.inbox) > 0
	case IRQError:
		return d.status.Read || d.status.Write
	}
	return false
}

type simLine struct {
	device  *SimDevice
	irq     IRQ
	c       chan struct{}
	enabled bool
	armed   bool
}

func (l *simLine) C() <-chan struct{} { return l.c }

func (l *simLine) Ack() {
	l.device.mu.Lock()
	defer l.device.mu.Unlock()
	l.armed = true
	l.evaluateLocked()
}

func (l *simLine) Enable(on bool) {
	l.device.mu.Lock()
	defer l.device.mu.Unlock()
	l.enabled = on
	l.evaluateLocked()
}

func (l *simLine) evaluateLocked() {
	if !l.enabled || !l.armed || !l.device.conditionLocked(l.irq) {
		return
	}
	l.armed = false
	select {
	case l.c <- struct{}{}:
	default:
	}
}

// SimMemory is a flat byte-addressed physical memory for a simulated
// Security Core.
type SimMemory struct {
	mu   sync.RWMutex
	data []byte
	fail map[uint64]error
}

var (
	_ io.ReaderAt = (*SimMemory)(nil)
	_ io.WriterAt = (*SimMemory)(nil)
)

// NewSimMemory returns size bytes of zeroed memory.
func NewSimMemory(size int) *SimMemory {
	return &SimMemory{data: make([]byte, size)}
}

// Size returns the memory size in bytes.
func (m *SimMemory) Size() int { return len(m.data) }

// ReadAt implements io.ReaderAt.
func (m *SimMemory) ReadAt(p []byte, offset int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail[uint64(offset)]; err != nil {
		return 0, err
	}
	if offset < 0 || offset+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("mailbox: read of %d bytes at %#x outside %d-byte memory: %w",
			len(p), offset, len(m.data), io.ErrUnexpectedEOF)
	}
	return copy(p, m.data[offset:]), nil
}

// WriteAt implements io.WriterAt.
func (m *SimMemory) WriteAt(p []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset < 0 || offset+int64(len(p)) > int64(len(m.data)) {
		return 0, fmt.Errorf("mailbox: write of %d bytes at %#x outside %d-byte memory", len(p), offset, len(m.data))
	}
	return copy(m.data[offset:], p), nil
}

// FailReads makes every read starting at address fail with err. A nil
// err clears the failure.
func (m *SimMemory) FailReads(address uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, address)
		return
	}
	if m.fail == nil {
		m.fail = make(map[uint64]error)
	}
	m.fail[address] = err
}
