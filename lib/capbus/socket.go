// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/seclink/lib/codec"
)

// Authenticator decides the label a socket connection attaches with,
// given the token it presented. An error refuses the connection.
type Authenticator func(token []byte) (label string, err error)

// SocketConfig configures ListenSocket.
type SocketConfig struct {
	// Path is the Unix socket path. A stale socket file is removed.
	Path string

	// Server is the bus the connections attach to.
	Server *Server

	// Authenticate maps attach tokens to labels. If nil, every
	// connection attaches unlabelled.
	Authenticate Authenticator

	// Logger receives connection messages. Nil discards.
	Logger *slog.Logger
}

// Wire records exchanged on the socket. Every message is one CBOR
// item: an attach request, then any number of call envelopes, each
// answered by one socketResponse.
type attachRequest struct {
	Token []byte `cbor:"token,omitempty"`
}

type attachResponse struct {
	Identity   string `cbor:"identity"`
	WindowSize int    `cbor:"window_size"`
}

type callEnvelope struct {
	Payload []byte `cbor:"payload"`
}

type socketResponse struct {
	OK     bool             `cbor:"ok"`
	Error  string           `cbor:"error,omitempty"`
	Code   string           `cbor:"code,omitempty"`
	Opcode byte             `cbor:"opcode,omitempty"`
	Data   codec.RawMessage `cbor:"data,omitempty"`
}

// Error codes carried in socketResponse.Code so the client can
// reconstruct the bus sentinels.
const (
	codeChannelClosed     = "channel_closed"
	codeProtocolViolation = "protocol_violation"
	codeFrameTooLarge     = "frame_too_large"
	codeRemote            = "remote"
	codeRefused           = "refused"
)

const (
	// attachTimeout bounds how long a new connection may take to
	// present its attach request.
	attachTimeout = 10 * time.Second

	// writeTimeout bounds each response write.
	writeTimeout = 10 * time.Second

	// maxAttachSize bounds the attach request, token included.
	maxAttachSize = 4096

	// envelopeOverhead is the room a call envelope needs beyond its
	// payload: the map header, the key and the byte string header.
	envelopeOverhead = 64
)

// budgetReader stops delivering bytes at an absolute stream offset, so
// a decoder reading from it can never buffer more than the item it is
// allowed. A read at the limit fails with ErrFrameTooLarge.
type budgetReader struct {
	r     io.Reader
	read  int64
	limit int64
}

func (r *budgetReader) Read(p []byte) (int, error) {
	room := r.limit - r.read
	if room <= 0 {
		return 0, ErrFrameTooLarge
	}
	if int64(len(p)) > room {
		p = p[:room]
	}
	n, err := r.r.Read(p)
	r.read += int64(n)
	return n, err
}

// allow lets the item starting at offset start run to size bytes.
// Bytes the decoder has already buffered past start count against it.
func (r *budgetReader) allow(start, size int) {
	r.limit = int64(start) + int64(size)
}

// ListenSocket serves cfg.Server on a Unix socket until ctx is
// cancelled. Each connection becomes one bus client for its lifetime.
func ListenSocket(ctx context.Context, cfg SocketConfig) error {
	if cfg.Server == nil {
		return fmt.Errorf("capbus: SocketConfig.Server is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.Remove(cfg.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", cfg.Path, err)
	}
	listener, err := net.Listen("unix", cfg.Path)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Path, err)
	}
	defer func() {
		listener.Close()
		os.Remove(cfg.Path)
	}()

	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	logger.Info("bus socket listening", "path", cfg.Path, "interface", cfg.Server.Interface())

	var active sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			logger.Error("accept failed", "error", err)
			continue
		}
		active.Add(1)
		go func() {
			defer active.Done()
			bridge := &socketBridge{cfg: cfg, conn: conn, logger: logger}
			bridge.run(ctx)
		}()
	}

	active.Wait()
	return nil
}

type socketBridge struct {
	cfg    SocketConfig
	conn   net.Conn
	logger *slog.Logger
}

func (b *socketBridge) run(ctx context.Context) {
	defer b.conn.Close()
	stop := context.AfterFunc(ctx, func() { b.conn.Close() })
	defer stop()

	budget := &budgetReader{r: b.conn}
	decoder := codec.NewDecoder(budget)
	encoder := codec.NewEncoder(b.conn)

	b.conn.SetReadDeadline(time.Now().Add(attachTimeout))
	budget.allow(0, maxAttachSize)
	var attach attachRequest
	if err := decoder.Decode(&attach); err != nil {
		if !IsClosed(err) {
			b.logger.Debug("reading attach request", "error", err)
		}
		return
	}

	label := ""
	if b.cfg.Authenticate != nil {
		var err error
		label, err = b.cfg.Authenticate(attach.Token)
		if err != nil {
			b.logger.Warn("refusing bus connection", "error", err)
			b.write(encoder, socketResponse{Code: codeRefused, Error: err.Error()})
			return
		}
	}

	client, err := b.cfg.Server.Connect(label)
	if err != nil {
		b.write(encoder, failure(err))
		return
	}
	defer client.Close()

	data, err := codec.Marshal(attachResponse{
		Identity:   client.identity.String(),
		WindowSize: client.WindowSize(),
	})
	if err != nil {
		b.write(encoder, failure(err))
		return
	}
	if !b.write(encoder, socketResponse{OK: true, Data: data}) {
		return
	}

	logger := b.logger.With("identity", client.identity.String(), "label", label)
	logger.Debug("socket client attached")

	b.conn.SetReadDeadline(time.Time{})
	for {
		budget.allow(decoder.NumBytesRead(), client.WindowSize()+envelopeOverhead)
		var envelope callEnvelope
		if err := decoder.Decode(&envelope); err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				logger.Warn("call envelope exceeds window", "window_size", client.WindowSize())
				b.write(encoder, failure(err))
				return
			}
			if !IsClosed(err) {
				logger.Debug("reading call envelope", "error", err)
			}
			return
		}

		response, err := client.Call(ctx, envelope.Payload)
		if err != nil {
			if !b.write(encoder, failure(err)) {
				return
			}
			continue
		}
		payload, err := codec.Marshal(response)
		if err != nil {
			b.write(encoder, failure(err))
			return
		}
		if !b.write(encoder, socketResponse{OK: true, Data: payload}) {
			return
		}
	}
}

func (b *socketBridge) write(encoder *codec.Encoder, response socketResponse) bool {
	b.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := encoder.Encode(response); err != nil {
		if !IsClosed(err) {
			b.logger.Debug("writing socket response", "error", err)
		}
		return false
	}
	return true
}

// failure converts a bus error into a socket response.
func failure(err error) socketResponse {
	response := socketResponse{Error: err.Error()}
	var remote *RemoteError
	switch {
	case errors.As(err, &remote):
		response.Code = codeRemote
		response.Opcode = remote.Opcode
		response.Error = remote.Message
	case errors.Is(err, ErrChannelClosed):
		response.Code = codeChannelClosed
	case errors.Is(err, ErrProtocolViolation):
		response.Code = codeProtocolViolation
	case errors.Is(err, ErrFrameTooLarge):
		response.Code = codeFrameTooLarge
	}
	return response
}
