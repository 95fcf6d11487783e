// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailbox_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/seclink/lib/clock"
	"github.com/bureau-foundation/seclink/lib/mailbox"
	"github.com/bureau-foundation/seclink/lib/testutil"
)

// longBase is deliberately not page aligned so long payloads straddle
// page boundaries.
const longBase = 0x0F80

type link struct {
	transport *mailbox.Transport
	device    *mailbox.SimDevice
	memory    *mailbox.SimMemory
	peer      *mailbox.Peer
}

func newLink(t *testing.T, depth int, cfg mailbox.Config) *link {
	t.Helper()
	device := mailbox.NewSimDevice(depth)
	memory := mailbox.NewSimMemory(64 * 1024)
	transport, err := mailbox.New(device, memory, cfg)
	if err != nil {
		t.Fatalf("mailbox.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	transport.Start(ctx)
	t.Cleanup(func() {
		cancel()
		transport.Close()
	})
	return &link{
		transport: transport,
		device:    device,
		memory:    memory,
		peer:      &mailbox.Peer{Device: device, Memory: memory, LongBase: longBase},
	}
}

// serve runs the peer with handler for the rest of the test.
func (l *link) serve(t *testing.T, handler mailbox.PeerHandler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.peer.Serve(ctx, handler) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "peer exit"); err != nil {
			t.Errorf("peer: %v", err)
		}
	})
}

// readRequest reads the next whole request, starting over whenever the
// host resets the link.
func (l *link) readRequest(ctx context.Context) (mailbox.Frame, error) {
	for {
		request, err := l.peer.ReadFrame(ctx)
		if errors.Is(err, mailbox.ErrLinkReset) {
			continue
		}
		return request, err
	}
}

func echo(request mailbox.Frame) (mailbox.Frame, bool) {
	return mailbox.Frame{Opcode: request.Opcode, Payload: request.Payload}, true
}

// callAsync starts a call and returns a channel for its outcome.
func callAsync(ctx context.Context, transport *mailbox.Transport, request mailbox.Frame) <-chan callResult {
	result := make(chan callResult, 1)
	go func() {
		reply, err := transport.Call(ctx, request)
		result <- callResult{reply, err}
	}()
	return result
}

type callResult struct {
	reply mailbox.Frame
	err   error
}

func pattern(length int, seed byte) []byte {
	data := make([]byte, length)
	for index := range data {
		data[index] = seed + byte(index%253)
	}
	return data
}

func TestCallRoundTrip(t *testing.T) {
	l := newLink(t, 0, mailbox.Config{})
	l.serve(t, echo)

	for _, length := range []int{0, 1, 4, 7, 256, 257, 4096, 5000, mailbox.DefaultMaxPayload} {
		payload := pattern(length, byte(length))
		reply, err := l.transport.Call(context.Background(), mailbox.Frame{Opcode: 0x21, Payload: payload})
		if err != nil {
			t.Fatalf("Call(%d bytes): %v", length, err)
		}
		if reply.Opcode != 0x21 {
			t.Errorf("%d bytes: reply opcode %#x, want 0x21", length, reply.Opcode)
		}
		if !bytes.Equal(reply.Payload, payload) {
			t.Errorf("%d bytes: payload mismatch", length)
		}
	}
	if state := l.transport.State(); state != mailbox.StateIdle {
		t.Errorf("State = %s after calls, want idle", state)
	}
}

func TestSmallFifoNeedsWriteSpaceInterrupts(t *testing.T) {
	l := newLink(t, 2, mailbox.Config{})
	l.serve(t, echo)

	for index := range 1000 {
		payload := []byte(fmt.Sprintf("request %04d with enough bytes to need several words", index))
		reply, err := l.transport.Call(context.Background(), mailbox.Frame{Opcode: 1, Payload: payload})
		if err != nil {
			t.Fatalf("Call %d: %v", index, err)
		}
		if !bytes.Equal(reply.Payload, payload) {
			t.Fatalf("Call %d: got %q", index, reply.Payload)
		}
	}
}

// TestCallsAreSingleFlight checks that a request reaches the link only
// after the previous call completed, and that calls complete in the
// order they took the transport lock. Sequence numbers are assigned
// under the lock, so the order the peer sees them is the lock order.
func TestCallsAreSingleFlight(t *testing.T) {
	l := newLink(t, 0, mailbox.Config{})
	const callers = 8

	completed := make(chan int, callers)
	results := make([]chan callResult, callers)
	for index := range callers {
		results[index] = make(chan callResult, 1)
		go func() {
			reply, err := l.transport.Call(context.Background(), mailbox.Frame{Opcode: 1, Payload: []byte{byte(index)}})
			results[index] <- callResult{reply, err}
			completed <- index
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var lastSequence uint8
	for turn := range callers {
		request, err := l.peer.ReadFrame(ctx)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if request.Sequence <= lastSequence {
			t.Errorf("sequence %d after %d", request.Sequence, lastSequence)
		}
		lastSequence = request.Sequence
		if outbox, _ := l.device.Pending(); outbox != 0 {
			t.Fatalf("%d words of a second request written while one is outstanding", outbox)
		}
		entered := int(request.Payload[0])
		if err := l.peer.WriteFrame(ctx, mailbox.Frame{Opcode: 1, Sequence: request.Sequence, Payload: request.Payload}); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}

		finished := testutil.RequireReceive(t, completed, 5*time.Second, "completion %d", turn)
		if finished != entered {
			t.Fatalf("turn %d: caller %d completed, but caller %d holds the lock", turn, finished, entered)
		}
		outcome := testutil.RequireReceive(t, results[finished], 5*time.Second, "caller %d result", finished)
		if outcome.err != nil {
			t.Fatalf("caller %d: %v", finished, outcome.err)
		}
		if !bytes.Equal(outcome.reply.Payload, []byte{byte(finished)}) {
			t.Errorf("caller %d got reply %v", finished, outcome.reply.Payload)
		}
	}
}

func TestConcurrentCallersGetTheirOwnReplies(t *testing.T) {
	l := newLink(t, 4, mailbox.Config{})
	l.serve(t, echo)

	var callers sync.WaitGroup
	errs := make(chan error, 4)
	for caller := range 4 {
		callers.Add(1)
		go func() {
			defer callers.Done()
			for index := range 100 {
				payload := []byte(fmt.Sprintf("caller-%d-call-%d", caller, index))
				reply, err := l.transport.Call(context.Background(), mailbox.Frame{Opcode: 2, Payload: payload})
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(reply.Payload, payload) {
					errs <- fmt.Errorf("caller %d call %d: got %q", caller, index, reply.Payload)
					return
				}
			}
		}()
	}
	callers.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestErrorInterruptFaultsCall(t *testing.T) {
	l := newLink(t, 0, mailbox.Config{})
	result := callAsync(context.Background(), l.transport, mailbox.Frame{Opcode: 3, Payload: []byte("doomed")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := l.peer.ReadFrame(ctx); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	// Half a reply, then the link reports an error.
	l.peer.Device.PeerWrite(ctx, mailbox.Header(8, 3, 1))
	l.device.InjectError(mailbox.ErrorStatus{Read: true})

	outcome := testutil.RequireReceive(t, result, 5*time.Second, "faulted call")
	if !errors.Is(outcome.err, mailbox.ErrTransportFault) {
		t.Fatalf("Call = %v, want ErrTransportFault", outcome.err)
	}
	if state := l.transport.State(); state != mailbox.StateIdle {
		t.Errorf("State = %s after fault, want idle", state)
	}
	if outbox, inbox := l.device.Pending(); outbox != 0 || inbox != 0 {
		t.Errorf("FIFOs not flushed: outbox=%d inbox=%d", outbox, inbox)
	}

	l.serve(t, echo)
	reply, err := l.transport.Call(context.Background(), mailbox.Frame{Opcode: 3, Payload: []byte("after")})
	if err != nil {
		t.Fatalf("Call after fault: %v", err)
	}
	if string(reply.Payload) != "after" {
		t.Errorf("reply after fault = %q", reply.Payload)
	}
}

// TestPeerDropsFrameOnReset covers a host reset while the Security Core
// is partway through reading a request.
func TestPeerDropsFrameOnReset(t *testing.T) {
	device := mailbox.NewSimDevice(4)
	peer := &mailbox.Peer{Device: device}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	read := make(chan error, 1)
	go func() {
		_, err := peer.ReadFrame(ctx)
		read <- err
	}()

	// A header promising 2000 bytes and the first two payload words.
	for _, word := range []uint32{mailbox.Header(2000, 9, 1), 0x11111111, 0x22222222} {
		if !device.TryWrite(word) {
			t.Fatal("TryWrite failed on an empty FIFO")
		}
	}
	for {
		if outbox, _ := device.Pending(); outbox == 0 {
			break
		}
		runtime.Gosched()
	}
	device.Flush()
	if err := testutil.RequireReceive(t, read, 5*time.Second, "ReadFrame after reset"); !errors.Is(err, mailbox.ErrLinkReset) {
		t.Fatalf("ReadFrame = %v, want ErrLinkReset", err)
	}

	// The next frame is read from its header.
	words, err := mailbox.AppendWords(nil, mailbox.Frame{Opcode: 3, Sequence: 2, Payload: []byte("fresh")})
	if err != nil {
		t.Fatal(err)
	}
	for _, word := range words {
		device.TryWrite(word)
	}
	request, err := peer.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if request.Opcode != 3 || request.Sequence != 2 || string(request.Payload) != "fresh" {
		t.Errorf("ReadFrame = %+v, want the frame sent after the reset", request)
	}
}

// TestLinkRecoversFromFaultWhileSending injects a link error while a
// long request is still being written through a two-word FIFO, with
// the Security Core serving throughout. Every following call must get
// its reply.
func TestLinkRecoversFromFaultWhileSending(t *testing.T) {
	l := newLink(t, 2, mailbox.Config{ReplyTimeout: 5 * time.Second})
	l.serve(t, echo)

	faultedWhileSending := 0
	for attempt := range 20 {
		result := callAsync(context.Background(), l.transport, mailbox.Frame{Opcode: 1, Payload: pattern(2000, byte(attempt))})
		deadline := time.Now().Add(time.Second)                                          //nolint:realclock bounded spin on link state
		for l.transport.State() != mailbox.StateSending && time.Now().Before(deadline) { //nolint:realclock
			runtime.Gosched()
		}
		l.device.InjectError(mailbox.ErrorStatus{Write: true})

		outcome := testutil.RequireReceive(t, result, 10*time.Second, "attempt %d faulted call", attempt)
		if outcome.err != nil && !errors.Is(outcome.err, mailbox.ErrTransportFault) {
			t.Fatalf("attempt %d: Call = %v, want success or ErrTransportFault", attempt, outcome.err)
		}
		if outcome.err != nil {
			faultedWhileSending++
		}

		// An error interrupt that arrived after the first call ended
		// may still fail the next one; the call after that must work.
		payload := []byte(fmt.Sprintf("after fault %d", attempt))
		var recovered bool
		for try := range 2 {
			reply, err := l.transport.Call(context.Background(), mailbox.Frame{Opcode: 2, Payload: payload})
			if errors.Is(err, mailbox.ErrReplyTimeout) {
				t.Fatalf("attempt %d try %d: link stopped answering: %v", attempt, try, err)
			}
			if err == nil {
				if !bytes.Equal(reply.Payload, payload) {
					t.Fatalf("attempt %d: reply %q, want %q", attempt, reply.Payload, payload)
				}
				recovered = true
				break
			}
		}
		if !recovered {
			t.Fatalf("attempt %d: no call succeeded after the fault", attempt)
		}
	}
	if l.device.Resets() == 0 {
		t.Error("no fault reset the link")
	}
	t.Logf("%d of 20 calls faulted while sending", faultedWhileSending)
}

func TestReplyTimeout(t *testing.T) {
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	l := newLink(t, 0, mailbox.Config{ReplyTimeout: 5 * time.Second, Clock: fake})
	l.serve(t, func(mailbox.Frame) (mailbox.Frame, bool) { return mailbox.Frame{}, false })

	result := callAsync(context.Background(), l.transport, mailbox.Frame{Opcode: 4})
	fake.WaitForTimers(1)
	testutil.RequireBlocked(t, result, 20*time.Millisecond, "call before timeout")
	fake.Advance(5 * time.Second)

	outcome := testutil.RequireReceive(t, result, 5*time.Second, "timed out call")
	if !errors.Is(outcome.err, mailbox.ErrReplyTimeout) {
		t.Fatalf("Call = %v, want ErrReplyTimeout", outcome.err)
	}
	if state := l.transport.State(); state != mailbox.StateIdle {
		t.Errorf("State = %s after timeout, want idle", state)
	}
}

func TestLateReplyIsDiscarded(t *testing.T) {
	l := newLink(t, 0, mailbox.Config{})
	peerCtx, peerCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer peerCancel()

	callCtx, callCancel := context.WithCancel(context.Background())
	first := callAsync(callCtx, l.transport, mailbox.Frame{Opcode: 5, Payload: []byte("first")})
	request, err := l.peer.ReadFrame(peerCtx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	callCancel()
	outcome := testutil.RequireReceive(t, first, 5*time.Second, "cancelled call")
	if !errors.Is(outcome.err, context.Canceled) {
		t.Fatalf("first Call = %v, want context.Canceled", outcome.err)
	}

	// The peer answers the abandoned request after the caller left.
	if err := l.peer.WriteFrame(peerCtx, mailbox.Frame{Opcode: 5, Sequence: request.Sequence, Payload: []byte("late")}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	second := callAsync(context.Background(), l.transport, mailbox.Frame{Opcode: 5, Payload: []byte("second")})
	request, err = l.peer.ReadFrame(peerCtx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := l.peer.WriteFrame(peerCtx, mailbox.Frame{Opcode: 5, Sequence: request.Sequence, Payload: request.Payload}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	outcome = testutil.RequireReceive(t, second, 5*time.Second, "second call")
	if outcome.err != nil {
		t.Fatalf("second Call: %v", outcome.err)
	}
	if string(outcome.reply.Payload) != "second" {
		t.Errorf("second Call got %q, want the late reply discarded", outcome.reply.Payload)
	}
}

// A stray reply that happens to carry the next call's sequence number
// is still rejected when its opcode belongs to another request.
func TestReplyForOtherOpcodeIsDiscarded(t *testing.T) {
	l := newLink(t, 0, mailbox.Config{})
	peerCtx, peerCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer peerCancel()

	callCtx, callCancel := context.WithCancel(context.Background())
	first := callAsync(callCtx, l.transport, mailbox.Frame{Opcode: 9, Payload: []byte("first")})
	request, err := l.peer.ReadFrame(peerCtx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	callCancel()
	testutil.RequireReceive(t, first, 5*time.Second, "cancelled call")

	next := request.Sequence + 1
	if next == 0 {
		next = 1
	}
	stray := mailbox.Frame{Opcode: 9, Sequence: next, Payload: []byte("stray")}
	if err := l.peer.WriteFrame(peerCtx, stray); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	second := callAsync(context.Background(), l.transport, mailbox.Frame{Opcode: 5, Payload: []byte("second")})
	request, err = l.peer.ReadFrame(peerCtx)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if request.Sequence != next {
		t.Fatalf("second request sequence = %d, want %d", request.Sequence, next)
	}
	if err := l.peer.WriteFrame(peerCtx, mailbox.Frame{Opcode: 5, Sequence: request.Sequence, Payload: request.Payload}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	outcome := testutil.RequireReceive(t, second, 5*time.Second, "second call")
	if outcome.err != nil {
		t.Fatalf("second Call: %v", outcome.err)
	}
	if outcome.reply.Opcode != 5 || string(outcome.reply.Payload) != "second" {
		t.Errorf("second Call got opcode %d %q, want the stray reply discarded", outcome.reply.Opcode, outcome.reply.Payload)
	}
}

func TestOversizeRequestNeverReachesLink(t *testing.T) {
	l := newLink(t, 0, mailbox.Config{MaxPayload: 64})
	_, err := l.transport.Call(context.Background(), mailbox.Frame{Opcode: 1, Payload: make([]byte, 65)})
	if !errors.Is(err, mailbox.ErrFrameTooLarge) {
		t.Fatalf("Call = %v, want ErrFrameTooLarge", err)
	}
	if outbox, _ := l.device.Pending(); outbox != 0 {
		t.Errorf("%d words written for a rejected request", outbox)
	}
}

func TestOversizeReplyIsRejected(t *testing.T) {
	l := newLink(t, 0, mailbox.Config{MaxPayload: 16})
	l.serve(t, func(request mailbox.Frame) (mailbox.Frame, bool) {
		if request.Opcode == 1 {
			return mailbox.Frame{Opcode: 1, Payload: make([]byte, 32)}, true
		}
		return echo(request)
	})

	_, err := l.transport.Call(context.Background(), mailbox.Frame{Opcode: 1})
	if !errors.Is(err, mailbox.ErrFrameTooLarge) {
		t.Fatalf("Call = %v, want ErrFrameTooLarge", err)
	}
	reply, err := l.transport.Call(context.Background(), mailbox.Frame{Opcode: 2, Payload: []byte("fits")})
	if err != nil || string(reply.Payload) != "fits" {
		t.Fatalf("Call after oversize reply = %q, %v", reply.Payload, err)
	}
}

func TestStagedCopyFailureIsFault(t *testing.T) {
	l := newLink(t, 0, mailbox.Config{})
	l.memory.FailReads(longBase, errors.New("bus error"))
	l.serve(t, func(request mailbox.Frame) (mailbox.Frame, bool) {
		return mailbox.Frame{Opcode: request.Opcode, Payload: make([]byte, 1000)}, true
	})

	_, err := l.transport.Call(context.Background(), mailbox.Frame{Opcode: 6})
	if !errors.Is(err, mailbox.ErrTransportFault) {
		t.Fatalf("Call = %v, want ErrTransportFault", err)
	}
}

func TestBreakerFailsFastAfterRepeatedFaults(t *testing.T) {
	l := newLink(t, 0, mailbox.Config{BreakerFailures: 2, BreakerCooldown: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for attempt := range 2 {
		result := callAsync(context.Background(), l.transport, mailbox.Frame{Opcode: 7})
		if _, err := l.readRequest(ctx); err != nil {
			t.Fatalf("attempt %d: ReadFrame: %v", attempt, err)
		}
		l.device.InjectError(mailbox.ErrorStatus{Write: true})
		outcome := testutil.RequireReceive(t, result, 5*time.Second, "attempt %d", attempt)
		if !errors.Is(outcome.err, mailbox.ErrTransportFault) {
			t.Fatalf("attempt %d: Call = %v, want ErrTransportFault", attempt, outcome.err)
		}
	}

	_, err := l.transport.Call(context.Background(), mailbox.Frame{Opcode: 7})
	if !errors.Is(err, mailbox.ErrTransportOpen) {
		t.Fatalf("Call with breaker open = %v, want ErrTransportOpen", err)
	}
	if outbox, _ := l.device.Pending(); outbox != 0 {
		t.Errorf("%d words written while the breaker is open", outbox)
	}
}

func TestCloseFailsWaitingCaller(t *testing.T) {
	l := newLink(t, 0, mailbox.Config{})
	result := callAsync(context.Background(), l.transport, mailbox.Frame{Opcode: 8})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := l.peer.ReadFrame(ctx); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	l.transport.Close()

	outcome := testutil.RequireReceive(t, result, 5*time.Second, "call during Close")
	if !errors.Is(outcome.err, mailbox.ErrClosed) {
		t.Fatalf("Call = %v, want ErrClosed", outcome.err)
	}
	if _, err := l.transport.Call(context.Background(), mailbox.Frame{Opcode: 8}); !errors.Is(err, mailbox.ErrClosed) {
		t.Fatalf("Call after Close = %v, want ErrClosed", err)
	}
}
