// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capbus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/seclink/lib/codec"
)

const dialTimeout = 5 * time.Second

// SocketClient is a bus client attached over a Unix socket. Like an
// in-process Client it has at most one call outstanding.
type SocketClient struct {
	conn       net.Conn
	encoder    *codec.Encoder
	decoder    *codec.Decoder
	identity   string
	windowSize int

	mu     sync.Mutex
	broken error
}

var _ Caller = (*SocketClient)(nil)

// DialSocket connects to a bus socket and attaches, presenting token to
// the server's Authenticator. A nil token attaches unlabelled.
func DialSocket(ctx context.Context, path string, token []byte) (*SocketClient, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}

	client := &SocketClient{
		conn:    conn,
		encoder: codec.NewEncoder(conn),
		decoder: codec.NewDecoder(conn),
	}

	conn.SetDeadline(time.Now().Add(attachTimeout))
	if err := client.encoder.Encode(attachRequest{Token: token}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending attach request: %w", err)
	}
	var response socketResponse
	if err := client.decoder.Decode(&response); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading attach response: %w", err)
	}
	if !response.OK {
		conn.Close()
		if response.Code == codeRefused {
			return nil, fmt.Errorf("attach refused: %s", response.Error)
		}
		return nil, responseError(response)
	}
	var attached attachResponse
	if err := codec.Unmarshal(response.Data, &attached); err != nil {
		conn.Close()
		return nil, fmt.Errorf("decoding attach response: %w", err)
	}
	conn.SetDeadline(time.Time{})

	client.identity = attached.Identity
	client.windowSize = attached.WindowSize
	return client, nil
}

// Identity returns the server-assigned identity, for logging only.
func (c *SocketClient) Identity() string { return c.identity }

// WindowSize returns the server's window size.
func (c *SocketClient) WindowSize() int { return c.windowSize }

// Call sends one request and waits for its response. If ctx ends
// mid-call the connection is abandoned, since its stream position is
// unknown; later calls return ErrChannelClosed.
func (c *SocketClient) Call(ctx context.Context, request []byte) ([]byte, error) {
	if len(request) > c.windowSize {
		return nil, fmt.Errorf("%w: request is %d bytes, window is %d",
			ErrFrameTooLarge, len(request), c.windowSize)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelClosed, c.broken)
	}

	defer c.bindContext(ctx)()

	if err := c.encoder.Encode(callEnvelope{Payload: request}); err != nil {
		return nil, c.fail(ctx, err)
	}
	var response socketResponse
	if err := c.decoder.Decode(&response); err != nil {
		return nil, c.fail(ctx, err)
	}
	if !response.OK {
		return nil, responseError(response)
	}

	var payload []byte
	if err := codec.Unmarshal(response.Data, &payload); err != nil {
		return nil, fmt.Errorf("decoding response payload: %w", err)
	}
	return payload, nil
}

// bindContext applies ctx's deadline and cancellation to the
// connection for one call. The returned release clears them, waiting
// out a cancellation that is already running so that no expired
// deadline is left on the connection for the next call.
func (c *SocketClient) bindContext(ctx context.Context) (release func()) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		c.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		if !stop() {
			<-fired
		}
		c.conn.SetDeadline(time.Time{})
	}
}

// fail marks the connection unusable and reports why.
func (c *SocketClient) fail(ctx context.Context, err error) error {
	c.broken = err
	c.conn.Close()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if IsClosed(err) {
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	return err
}

// Close detaches from the server.
func (c *SocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return nil
	}
	c.broken = ErrChannelClosed
	return c.conn.Close()
}

func responseError(response socketResponse) error {
	switch response.Code {
	case codeRemote:
		return &RemoteError{Opcode: response.Opcode, Message: response.Error}
	case codeChannelClosed:
		return fmt.Errorf("%w: %s", ErrChannelClosed, response.Error)
	case codeProtocolViolation:
		return fmt.Errorf("%w: %s", ErrProtocolViolation, response.Error)
	case codeFrameTooLarge:
		return fmt.Errorf("%w: %s", ErrFrameTooLarge, response.Error)
	default:
		return fmt.Errorf("capbus: %s", response.Error)
	}
}
