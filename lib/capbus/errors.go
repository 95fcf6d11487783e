// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capbus

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Errors surfaced by the bus. All of them are detected before any
// payload is copied and none of them is retried by the bus.
var (
	// ErrChannelClosed means the peer endpoint was torn down while a
	// call was in flight, or before it could start.
	ErrChannelClosed = errors.New("capbus: channel closed")

	// ErrProtocolViolation means a call broke the bus contract: its
	// window did not belong to its identity, or a reply arrived for a
	// client with no outstanding call.
	ErrProtocolViolation = errors.New("capbus: protocol violation")

	// ErrFrameTooLarge means a payload does not fit the shared window.
	ErrFrameTooLarge = errors.New("capbus: payload exceeds shared window")
)

// RemoteError is a handler failure delivered to the caller as the
// result of its call.
type RemoteError struct {
	Opcode  byte
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("capbus: opcode %#02x failed: %s", e.Opcode, e.Message)
}

// IsClosed reports whether err is an expected teardown error: the bus
// channel closing, or the socket bridge seeing EOF, a closed
// connection, a broken pipe or a reset. Callers log these at debug.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrChannelClosed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
