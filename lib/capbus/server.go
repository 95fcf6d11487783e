// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capbus

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/seclink/lib/region"
)

// Call is one request delivered to a server by Accept.
type Call struct {
	// Identity is the caller, attached by the bus.
	Identity Identity

	// Label is the label the caller attached with (see
	// [Server.Connect]). Empty for unlabelled system clients.
	Label string

	// Request is the request payload. It is a view of the caller's
	// shared window and is valid until the call is answered.
	Request []byte

	client   *Client
	window   *region.Window
	reply    chan result
	accepted bool
}

type result struct {
	response []byte
	err      error
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Interface names the interface this server implements. It is
	// part of every window grant, so one client attached to two
	// interfaces holds two windows.
	Interface string

	// Allocator supplies shared windows. Required.
	Allocator *region.Allocator

	// Logger receives attach, detach and violation messages. Nil
	// discards.
	Logger *slog.Logger

	// Metrics, if non-nil, records call outcomes.
	Metrics *Metrics
}

// Server is the server end of one bus interface.
type Server struct {
	iface     string
	allocator *region.Allocator
	logger    *slog.Logger
	metrics   *Metrics

	mu        sync.Mutex
	nextBadge uint64
	clients   map[Identity]*Client
	closed    bool

	queue     chan *Call
	done      chan struct{}
	closeOnce sync.Once

	handlers map[byte]HandlerFunc
}

// NewServer creates a server for one interface.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Allocator == nil {
		return nil, fmt.Errorf("capbus: ServerConfig.Allocator is required")
	}
	if cfg.Interface == "" {
		return nil, fmt.Errorf("capbus: ServerConfig.Interface is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		iface:     cfg.Interface,
		allocator: cfg.Allocator,
		logger:    logger.With("interface", cfg.Interface),
		metrics:   cfg.Metrics,
		clients:   make(map[Identity]*Client),
		// Each client has at most one call queued, so the pool size
		// bounds the queue.
		queue:    make(chan *Call, cfg.Allocator.Capacity()),
		done:     make(chan struct{}),
		handlers: make(map[byte]HandlerFunc),
	}, nil
}

// Interface returns the interface name.
func (s *Server) Interface() string { return s.iface }

// Connect attaches a new client, minting its identity and granting its
// shared window. The label is fixed for the life of the client and is
// visible to the server on every call; the coordinator uses it to bind
// a client to a key-value bundle.
func (s *Server) Connect(label string) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrChannelClosed
	}

	s.nextBadge++
	identity := Identity{badge: s.nextBadge}
	window, err := s.allocator.Grant(s.owner(identity))
	if err != nil {
		return nil, fmt.Errorf("capbus: attaching client: %w", err)
	}

	client := &Client{
		server:   s,
		identity: identity,
		label:    label,
		window:   window,
		slot:     make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
	s.clients[identity] = client
	s.metrics.clientAttached()

	s.logger.Debug("client attached", "identity", identity.String(), "label", label)
	return client, nil
}

// Label returns the label identity attached with, and whether the
// identity is currently attached.
func (s *Server) Label(identity Identity) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.clients[identity]
	if !ok {
		return "", false
	}
	return client.label, true
}

// Accept blocks until a call arrives and returns it. Calls whose
// window does not belong to their identity are failed with
// ErrProtocolViolation and skipped; calls from clients that detached
// while queued are dropped. Accept returns ErrChannelClosed once the
// server is closed.
func (s *Server) Accept(ctx context.Context) (*Call, error) {
	for {
		select {
		case call := <-s.queue:
			if s.admit(call) {
				return call, nil
			}
		case <-s.done:
			return nil, ErrChannelClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// admit validates a dequeued call and marks it accepted.
func (s *Server) admit(call *Call) bool {
	client := call.client
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.detached || client.pending != call {
		return false
	}

	if !call.window.BelongsTo(s.owner(call.Identity)) {
		s.logger.Warn("rejecting call: window does not belong to caller",
			"identity", call.Identity.String(),
			"window_owner", call.window.Owner().String(),
		)
		s.metrics.callFinished(outcomeViolation)
		client.pending = nil
		call.reply <- result{err: fmt.Errorf("%w: window not granted to %s", ErrProtocolViolation, call.Identity)}
		return false
	}

	call.accepted = true
	return true
}

// Reply answers identity's outstanding call with response. The
// response is copied into the caller's window. Returns
// ErrFrameTooLarge if it does not fit (the call stays outstanding so
// the server can answer with an error instead), ErrChannelClosed if
// the caller detached, and ErrProtocolViolation if the caller has no
// call awaiting a reply.
func (s *Server) Reply(identity Identity, response []byte) error {
	return s.finish(identity, func(call *Call) (result, error) {
		if len(response) > call.window.Size() {
			return result{}, fmt.Errorf("%w: reply is %d bytes, window is %d",
				ErrFrameTooLarge, len(response), call.window.Size())
		}
		written := copy(call.window.Bytes(), response)
		return result{response: bytes.Clone(call.window.Bytes()[:written])}, nil
	})
}

// Fail answers identity's outstanding call with an error instead of a
// response.
func (s *Server) Fail(identity Identity, callErr error) error {
	return s.finish(identity, func(*Call) (result, error) {
		return result{err: callErr}, nil
	})
}

func (s *Server) finish(identity Identity, complete func(*Call) (result, error)) error {
	s.mu.Lock()
	client, ok := s.clients[identity]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s is not attached", ErrChannelClosed, identity)
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	call := client.pending
	if call == nil || !call.accepted {
		return fmt.Errorf("%w: %s has no call awaiting a reply", ErrProtocolViolation, identity)
	}

	if client.detached {
		// The caller left while its call was in service. The window
		// was kept until now so it could not be handed to anyone
		// else mid-call.
		client.pending = nil
		s.release(client)
		s.metrics.callFinished(outcomeClosed)
		return fmt.Errorf("%w: %s detached during the call", ErrChannelClosed, identity)
	}

	outcome, err := complete(call)
	if err != nil {
		return err
	}
	client.pending = nil
	if outcome.err != nil {
		s.metrics.callFinished(outcomeError)
	} else {
		s.metrics.callFinished(outcomeOK)
	}
	call.reply <- outcome
	return nil
}

// detach is called by Client.Close with client.mu held.
func (s *Server) detach(client *Client) {
	client.detached = true
	close(client.closed)

	if client.pending != nil && client.pending.accepted {
		// Release happens when the server answers.
		s.logger.Debug("client detached mid-call", "identity", client.identity.String())
		return
	}
	client.pending = nil
	s.release(client)
}

// release forgets client and returns its window to the pool. Called
// with client.mu held.
func (s *Server) release(client *Client) {
	s.mu.Lock()
	delete(s.clients, client.identity)
	s.mu.Unlock()

	if err := s.allocator.Revoke(s.owner(client.identity)); err != nil {
		s.logger.Debug("revoking window", "identity", client.identity.String(), "error", err)
	}
	s.metrics.clientDetached()
	s.logger.Debug("client detached", "identity", client.identity.String())
}

// Close detaches every client, failing their calls with
// ErrChannelClosed, and makes Accept return. Close is idempotent.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		clients := make([]*Client, 0, len(s.clients))
		for _, client := range s.clients {
			clients = append(clients, client)
		}
		s.mu.Unlock()

		close(s.done)
		for _, client := range clients {
			client.Close()
		}
		s.logger.Info("bus server closed")
	})
	return nil
}

func (s *Server) owner(identity Identity) region.Owner {
	return region.Owner{Client: identity.badge, Interface: s.iface}
}
