// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bureau-foundation/seclink/lib/clock"
	"github.com/bureau-foundation/seclink/lib/region"
)

var (
	// ErrFrameTooLarge reports a request that does not fit the link or
	// a reply that does not fit the receive buffer.
	ErrFrameTooLarge = errors.New("mailbox: frame too large")

	// ErrTransportFault reports that the error line fired or a staged
	// copy failed while a call was in flight. The request may or may
	// not have been applied by the Security Core.
	ErrTransportFault = errors.New("mailbox: transport fault")

	// ErrReplyTimeout reports that no reply arrived within
	// Config.ReplyTimeout.
	ErrReplyTimeout = errors.New("mailbox: reply timeout")

	// ErrTransportOpen reports that the circuit breaker is refusing
	// calls after repeated faults.
	ErrTransportOpen = errors.New("mailbox: transport suspended after repeated faults")

	// ErrClosed reports a call on a closed transport.
	ErrClosed = errors.New("mailbox: transport closed")
)

// State is the transport's position in a frame exchange.
type State int32

const (
	StateIdle State = iota
	StateSending
	StateAwaitingReply
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingReply:
		return "awaiting-reply"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultMaxPayload is the receive buffer size when Config.MaxPayload
// is zero.
const DefaultMaxPayload = 2 * region.PageSize

// Config configures a Transport.
type Config struct {
	// MaxPayload bounds request and reply payloads. Zero means
	// DefaultMaxPayload.
	MaxPayload int

	// ReplyTimeout bounds the wait for a reply. Zero waits until the
	// caller's context ends.
	ReplyTimeout time.Duration

	// Clock drives the reply timeout. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives link events. Nil discards.
	Logger *slog.Logger

	// Metrics records link activity. Nil records nothing.
	Metrics *Metrics

	// BreakerFailures is the number of consecutive faults or timeouts
	// after which calls fail fast with ErrTransportOpen. Zero disables
	// the breaker.
	BreakerFailures uint32

	// BreakerCooldown is how long the breaker stays open before
	// letting one trial call through. Zero means 30 seconds.
	BreakerCooldown time.Duration
}

// Transport is the host side of the mailbox link. It is safe for
// concurrent use; calls are serialized.
type Transport struct {
	device       Device
	memory       io.ReaderAt
	maxPayload   int
	replyTimeout time.Duration
	clock        clock.Clock
	logger       *slog.Logger
	metrics      *Metrics
	breaker      *gobreaker.CircuitBreaker

	// lock is held for one whole round trip.
	lock     chan struct{}
	sequence uint8
	state    atomic.Int32

	// rxMu guards the receive side, which the read-data goroutine
	// fills and the caller drains.
	rxMu      sync.Mutex
	assembler assembler
	window    *copyWindow
	replies   []pending
	arrived   Semaphore

	writeSpace chan struct{}

	activeMu     sync.Mutex
	activeCancel context.CancelCauseFunc
	faultPending atomic.Bool

	startOnce sync.Once
	closeOnce sync.Once
	stop      context.CancelFunc
	done      sync.WaitGroup
	closed    chan struct{}
}

// New creates a transport on device. memory is the Security Core's
// physical memory, from which long reply payloads are copied. Start
// must be called before Call.
func New(device Device, memory io.ReaderAt, cfg Config) (*Transport, error) {
	if device == nil {
		return nil, errors.New("mailbox: device is required")
	}
	if cfg.MaxPayload == 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
	if cfg.MaxPayload < 0 || cfg.MaxPayload > MaxFrameLength {
		return nil, fmt.Errorf("mailbox: MaxPayload %d outside 1..%d", cfg.MaxPayload, MaxFrameLength)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	window, err := newCopyWindow()
	if err != nil {
		return nil, err
	}

	t := &Transport{
		device:       device,
		memory:       memory,
		maxPayload:   cfg.MaxPayload,
		replyTimeout: cfg.ReplyTimeout,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		lock:         make(chan struct{}, 1),
		assembler:    assembler{maxPayload: cfg.MaxPayload},
		window:       window,
		writeSpace:   make(chan struct{}, 1),
		closed:       make(chan struct{}),
	}
	if cfg.BreakerFailures > 0 {
		t.breaker = newBreaker(cfg, t.logger)
	}
	return t, nil
}

func newBreaker(cfg Config, logger *slog.Logger) *gobreaker.CircuitBreaker {
	cooldown := cfg.BreakerCooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}
	threshold := cfg.BreakerFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mailbox",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Only link failures count; a caller giving up or an oversize
		// reply says nothing about the link.
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, ErrTransportFault) && !errors.Is(err, ErrReplyTimeout)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("mailbox breaker state changed", "from", from.String(), "to", to.String())
		},
	})
}

// Start launches the interrupt goroutines. They run until ctx is
// cancelled or Close is called.
func (t *Transport) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		ctx, t.stop = context.WithCancel(ctx)
		t.device.Line(IRQReadData).Enable(true)
		t.device.Line(IRQError).Enable(true)
		t.done.Add(2)
		go t.readLoop(ctx)
		go t.dispatchLoop(ctx)
	})
}

// State returns the transport's current state.
func (t *Transport) State() State { return State(t.state.Load()) }

// MaxPayload returns the largest request or reply payload.
func (t *Transport) MaxPayload() int { return t.maxPayload }

// Call sends request and blocks until the matching reply arrives. The
// request's Sequence is assigned by the transport. Calls are
// serialized; a caller waiting for the lock may give up via ctx.
func (t *Transport) Call(ctx context.Context, request Frame) (Frame, error) {
	if len(request.Payload) > t.maxPayload {
		return Frame{}, fmt.Errorf("%w: request is %d bytes, limit %d", ErrFrameTooLarge, len(request.Payload), t.maxPayload)
	}
	if t.breaker == nil {
		return t.call(ctx, request)
	}
	result, err := t.breaker.Execute(func() (interface{}, error) {
		return t.call(ctx, request)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Frame{}, fmt.Errorf("%w: %v", ErrTransportOpen, err)
	}
	if err != nil {
		return Frame{}, err
	}
	return result.(Frame), nil
}

func (t *Transport) call(ctx context.Context, request Frame) (Frame, error) {
	select {
	case t.lock <- struct{}{}:
	case <-t.closed:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
	defer func() { <-t.lock }()

	select {
	case <-t.closed:
		return Frame{}, ErrClosed
	default:
	}
	return t.roundTrip(ctx, request)
}

// roundTrip performs one exchange. The caller holds t.lock.
func (t *Transport) roundTrip(ctx context.Context, request Frame) (Frame, error) {
	if t.faultPending.Swap(false) {
		t.reset(fmt.Errorf("%w: error line fired while idle", ErrTransportFault))
	}

	t.sequence++
	if t.sequence == 0 {
		t.sequence = 1
	}
	request.Sequence = t.sequence
	words, err := AppendWords(nil, request)
	if err != nil {
		return Frame{}, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	t.setActive(cancel)
	defer t.setActive(nil)

	if t.replyTimeout > 0 {
		timer := t.clock.NewTimer(t.replyTimeout)
		defer timer.Stop()
		go func() {
			select {
			case <-timer.C:
				cancel(fmt.Errorf("%w after %s", ErrReplyTimeout, t.replyTimeout))
			case <-ctx.Done():
			}
		}()
	}

	start := t.clock.Now()
	t.state.Store(int32(StateSending))
	if err := t.send(ctx, words); err != nil {
		// A partial frame may be in the outbox.
		t.reset(err)
		return Frame{}, t.failure(ctx, err)
	}
	t.metrics.frameSent(request.Opcode)

	t.state.Store(int32(StateAwaitingReply))
	for {
		if err := t.arrived.Wait(ctx); err != nil {
			err = t.failure(ctx, err)
			if errors.Is(err, ErrTransportFault) || errors.Is(err, ErrReplyTimeout) {
				t.reset(err)
			} else {
				// The caller gave up. A late reply carries this
				// sequence and opcode and is discarded by the next call.
				t.state.Store(int32(StateIdle))
			}
			return Frame{}, err
		}

		reply, ok := t.popReply()
		if !ok {
			continue
		}
		if reply.frame.Sequence != request.Sequence || reply.frame.Opcode != request.Opcode {
			t.logger.Debug("discarding stale mailbox reply",
				"sequence", reply.frame.Sequence, "want", request.Sequence,
				"opcode", reply.frame.Opcode, "want_opcode", request.Opcode)
			t.metrics.staleReply()
			continue
		}
		if reply.err != nil {
			if errors.Is(reply.err, ErrTransportFault) {
				t.reset(reply.err)
			} else {
				t.state.Store(int32(StateIdle))
			}
			return Frame{}, reply.err
		}

		t.state.Store(int32(StateIdle))
		t.metrics.roundTrip(t.clock.Now().Sub(start))
		return reply.frame, nil
	}
}

// failure picks the error to report when ctx ended or a wait failed.
func (t *Transport) failure(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		switch {
		case errors.Is(cause, ErrReplyTimeout):
			t.metrics.timeout()
		case errors.Is(cause, ErrTransportFault):
			t.metrics.fault()
		}
		return cause
	}
	return err
}

// send writes words to the outbox, waiting for write space when it is
// full.
func (t *Transport) send(ctx context.Context, words []uint32) error {
	line := t.device.Line(IRQWriteSpace)
	for index := 0; index < len(words); {
		if t.device.TryWrite(words[index]) {
			index++
			continue
		}
		line.Enable(true)
		// The peer may have drained between the failed write and the
		// unmask.
		if t.device.TryWrite(words[index]) {
			line.Enable(false)
			index++
			continue
		}
		select {
		case <-t.writeSpace:
		case <-ctx.Done():
			line.Enable(false)
			return context.Cause(ctx)
		}
		line.Enable(false)
	}
	return nil
}

func (t *Transport) popReply() (pending, bool) {
	t.rxMu.Lock()
	defer t.rxMu.Unlock()
	if len(t.replies) == 0 {
		return pending{}, false
	}
	reply := t.replies[0]
	t.replies[0] = pending{}
	t.replies = t.replies[1:]
	return reply, true
}

// reset returns the link to a clean Idle state after a fault. The
// caller holds t.lock.
func (t *Transport) reset(reason error) {
	t.state.Store(int32(StateFaulted))
	t.logger.Warn("resetting mailbox link", "reason", reason)

	t.rxMu.Lock()
	t.device.Flush()
	t.assembler.reset()
	t.replies = nil
	t.arrived.drain()
	t.rxMu.Unlock()

	select {
	case <-t.writeSpace:
	default:
	}
	t.state.Store(int32(StateIdle))
}

func (t *Transport) setActive(cancel context.CancelCauseFunc) {
	t.activeMu.Lock()
	defer t.activeMu.Unlock()
	t.activeCancel = cancel
}

// abort fails the in-flight call with cause, or arranges for the next
// call to reset the link first.
func (t *Transport) abort(cause error) {
	t.activeMu.Lock()
	defer t.activeMu.Unlock()
	if t.activeCancel != nil {
		t.activeCancel(cause)
		return
	}
	t.faultPending.Store(true)
}

// readLoop services the read-data line.
func (t *Transport) readLoop(ctx context.Context) {
	defer t.done.Done()
	line := t.device.Line(IRQReadData)
	for {
		select {
		case <-ctx.Done():
			return
		case <-line.C():
		}
		t.drainInbox()
		line.Ack()
	}
}

// drainInbox reads every available word, completing frames as it
// goes. Long payloads are staged out of Security Core memory before
// the frame is queued.
func (t *Transport) drainInbox() {
	t.rxMu.Lock()
	defer t.rxMu.Unlock()
	for {
		word, ok := t.device.TryRead()
		if !ok {
			return
		}
		reply, complete := t.assembler.push(word)
		if !complete {
			continue
		}
		if reply.long && reply.err == nil {
			reply.err = t.stage(reply)
		}
		t.replies = append(t.replies, reply)
		t.arrived.Post()
	}
}

func (t *Transport) stage(reply pending) error {
	if t.memory == nil {
		return fmt.Errorf("%w: long reply with no physical memory attached", ErrTransportFault)
	}
	if err := t.window.stage(reply.frame.Payload, t.memory, reply.address); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportFault, err)
	}
	t.metrics.staged(len(reply.frame.Payload))
	return nil
}

// dispatchLoop services the write-space and error lines.
func (t *Transport) dispatchLoop(ctx context.Context) {
	defer t.done.Done()
	writeSpace := t.device.Line(IRQWriteSpace)
	errorLine := t.device.Line(IRQError)
	for {
		select {
		case <-ctx.Done():
			return
		case <-writeSpace.C():
			select {
			case t.writeSpace <- struct{}{}:
			default:
			}
			writeSpace.Ack()
		case <-errorLine.C():
			status := t.device.ErrorStatus()
			t.logger.Error("mailbox error interrupt",
				"read_error", status.Read, "write_error", status.Write)
			t.abort(fmt.Errorf("%w: link error (%s)", ErrTransportFault, status))
			errorLine.Ack()
		}
	}
}

// Close stops the interrupt goroutines and fails the call in flight
// and any queued callers with ErrClosed.
func (t *Transport) Close() (err error) {
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.stop != nil {
			t.stop()
		}
		t.done.Wait()
		t.abort(ErrClosed)
		t.rxMu.Lock()
		defer t.rxMu.Unlock()
		err = t.window.close()
	})
	return err
}
