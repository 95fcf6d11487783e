// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capbus

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
)

// HandlerFunc serves one opcode. The returned bytes become the reply;
// a returned error is delivered to the caller as a [*RemoteError].
// Handlers must not retain call.Request after returning.
type HandlerFunc func(ctx context.Context, call *Call) ([]byte, error)

// Handle registers handler for calls whose first request byte is
// opcode. Must be called before Serve. Panics on a duplicate opcode.
func (s *Server) Handle(opcode byte, handler HandlerFunc) {
	if _, exists := s.handlers[opcode]; exists {
		panic(fmt.Sprintf("capbus.Server: duplicate handler for opcode %#02x", opcode))
	}
	s.handlers[opcode] = handler
}

// Serve accepts calls and dispatches them to registered handlers one at
// a time, in arrival order, until ctx is cancelled or the server is
// closed. A handler that panics fails its own call; the loop keeps
// serving.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("bus server serving", "handlers", len(s.handlers))
	for {
		call, err := s.Accept(ctx)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.dispatch(ctx, call)
	}
}

func (s *Server) dispatch(ctx context.Context, call *Call) {
	if len(call.Request) == 0 {
		s.answer(call, nil, fmt.Errorf("%w: empty request", ErrProtocolViolation))
		return
	}
	opcode := call.Request[0]

	handler, exists := s.handlers[opcode]
	if !exists {
		s.answer(call, nil, &RemoteError{Opcode: opcode, Message: "unknown opcode"})
		return
	}

	response, err := s.invoke(ctx, handler, call)
	if err != nil {
		s.logger.Debug("handler failed",
			"identity", call.Identity.String(),
			"opcode", opcode,
			"error", err,
		)
		var remote *RemoteError
		if !errors.As(err, &remote) {
			err = &RemoteError{Opcode: opcode, Message: err.Error()}
		}
	}
	s.answer(call, response, err)
}

func (s *Server) invoke(ctx context.Context, handler HandlerFunc, call *Call) (response []byte, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("handler panicked",
				"identity", call.Identity.String(),
				"panic", fmt.Sprint(recovered),
				"stack", string(debug.Stack()),
			)
			response = nil
			err = fmt.Errorf("internal error: handler panicked")
		}
	}()
	return handler(ctx, call)
}

// answer delivers a handler's outcome, turning an oversize reply into
// an error the caller can see.
func (s *Server) answer(call *Call, response []byte, callErr error) {
	var err error
	if callErr != nil {
		err = s.Fail(call.Identity, callErr)
	} else {
		err = s.Reply(call.Identity, response)
		if errors.Is(err, ErrFrameTooLarge) {
			s.logger.Warn("handler reply exceeds window",
				"identity", call.Identity.String(),
				"size", len(response),
			)
			err = s.Fail(call.Identity, err)
		}
	}
	if err != nil {
		if IsClosed(err) {
			s.logger.Debug("caller left before reply", "identity", call.Identity.String())
			return
		}
		s.logger.Error("delivering reply", "identity", call.Identity.String(), "error", err)
	}
}
