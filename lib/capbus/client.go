// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/seclink/lib/region"
)

// Caller is the client side of a bus interface, in process or across
// the socket bridge.
type Caller interface {
	// Call sends request and blocks for the response.
	Call(ctx context.Context, request []byte) ([]byte, error)

	// Close detaches the caller.
	Close() error
}

// Client is an attached in-process client. A Client is safe for
// concurrent use, but its calls are serialized: at most one is
// outstanding at a time.
type Client struct {
	server   *Server
	identity Identity
	label    string
	window   *region.Window

	// slot is held for the whole round trip of one call.
	slot chan struct{}

	mu       sync.Mutex
	pending  *Call
	detached bool
	closed   chan struct{}
}

var _ Caller = (*Client)(nil)

// WindowSize returns the largest request or response this client can
// carry.
func (c *Client) WindowSize() int { return c.window.Size() }

// Call copies request into the client's window, delivers it to the
// server with the client's identity attached, and blocks until the
// server replies, fails the call, or either side detaches.
//
// A second Call on the same client waits for the first to finish. If
// ctx ends while the server is still processing the call, Call returns
// ctx.Err() immediately but the client stays busy until the server
// answers, since the server still owns the window.
func (c *Client) Call(ctx context.Context, request []byte) ([]byte, error) {
	if len(request) > c.window.Size() {
		return nil, fmt.Errorf("%w: request is %d bytes, window is %d",
			ErrFrameTooLarge, len(request), c.window.Size())
	}

	select {
	case c.slot <- struct{}{}:
	case <-c.closed:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	holdSlot := false
	defer func() {
		if !holdSlot {
			<-c.slot
		}
	}()

	call, err := c.stage(request)
	if err != nil {
		return nil, err
	}

	select {
	case c.server.queue <- call:
	case <-c.closed:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		c.withdraw(call)
		return nil, ctx.Err()
	}

	select {
	case outcome := <-call.reply:
		return outcome.response, outcome.err
	case <-c.closed:
		// A reply may have raced the teardown.
		select {
		case outcome := <-call.reply:
			return outcome.response, outcome.err
		default:
		}
		return nil, ErrChannelClosed
	case <-ctx.Done():
		holdSlot = true
		go func() {
			select {
			case <-call.reply:
			case <-c.closed:
			}
			<-c.slot
		}()
		return nil, ctx.Err()
	}
}

// stage copies request into the window and records the pending call.
func (c *Client) stage(request []byte) (*Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.detached {
		return nil, ErrChannelClosed
	}
	written := copy(c.window.Bytes(), request)
	call := &Call{
		Identity: c.identity,
		Label:    c.label,
		Request:  c.window.Bytes()[:written],
		client:   c,
		window:   c.window,
		reply:    make(chan result, 1),
	}
	c.pending = call
	return call, nil
}

// withdraw forgets a call that never reached the queue.
func (c *Client) withdraw(call *Call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == call {
		c.pending = nil
	}
}

// Close detaches the client. An in-flight call fails with
// ErrChannelClosed. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return nil
	}
	c.server.detach(c)
	return nil
}
