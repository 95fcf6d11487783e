// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccoord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/seclink/lib/capbus"
	"github.com/bureau-foundation/seclink/lib/seccore"
	"github.com/bureau-foundation/seclink/lib/secproto"
)

// Config configures a Coordinator.
type Config struct {
	// Server is the bus the coordinator serves. Required.
	Server *capbus.Server

	// Core reaches the Security Core. Required.
	Core seccore.Exchanger

	// Logger receives denials and link failures. Nil discards.
	Logger *slog.Logger

	// Metrics records request outcomes. Nil records nothing.
	Metrics *Metrics
}

// Coordinator serves the security protocol on a bus. Key-value,
// builtin and test requests go to the Security Core; package requests
// are answered from the coordinator's bundle registry.
type Coordinator struct {
	server   *capbus.Server
	core     seccore.Exchanger
	packages *packages
	logger   *slog.Logger
	metrics  *Metrics
}

// New registers the protocol handlers on cfg.Server.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Server == nil {
		return nil, fmt.Errorf("seccoord: Config.Server is required")
	}
	if cfg.Core == nil {
		return nil, fmt.Errorf("seccoord: Config.Core is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Coordinator{
		server:   cfg.Server,
		core:     cfg.Core,
		packages: &packages{registry: newRegistry(), builtins: seccore.NewClient(cfg.Core)},
		logger:   logger,
		metrics:  cfg.Metrics,
	}
	for _, op := range secproto.Opcodes() {
		cfg.Server.Handle(byte(op), c.handler(op))
	}
	return c, nil
}

// Serve dispatches calls until ctx is cancelled or the server closes.
func (c *Coordinator) Serve(ctx context.Context) error {
	return c.server.Serve(ctx)
}

func (c *Coordinator) handler(op secproto.Opcode) capbus.HandlerFunc {
	return func(ctx context.Context, call *capbus.Call) ([]byte, error) {
		request, err := secproto.Decode(call.Request)
		if err != nil {
			c.metrics.request(op, secproto.StatusDeserializeFailed)
			return secproto.EncodeError(secproto.Fail(op, secproto.StatusDeserializeFailed, "%v", err)), nil
		}
		if err := authorize(call.Label, request); err != nil {
			c.logger.Warn("request denied",
				"identity", call.Identity.String(),
				"label", call.Label,
				"opcode", op.String(),
				"error", err,
			)
			c.metrics.request(op, secproto.StatusPermissionDenied)
			return secproto.EncodeError(err), nil
		}
		if isPackageOp(op) {
			return c.servePackages(ctx, call, request)
		}
		if request, ok := request.(*secproto.DeleteBundleRequest); ok {
			c.packages.registry.remove(request.Bundle)
		}

		response, err := c.core.Exchange(ctx, call.Request)
		if err != nil {
			c.logger.Error("security core exchange failed",
				"identity", call.Identity.String(),
				"opcode", op.String(),
				"error", err,
			)
			c.metrics.linkFailure(op)
			return nil, fmt.Errorf("security core unavailable: %w", err)
		}
		if status, err := secproto.ResponseStatus(response); err == nil {
			c.metrics.request(op, status)
		}
		return response, nil
	}
}

func isPackageOp(op secproto.Opcode) bool {
	switch op {
	case secproto.OpGetPackages, secproto.OpSizeBuffer, secproto.OpLoadApplication,
		secproto.OpLoadModel, secproto.OpInstallApp, secproto.OpInstallModel:
		return true
	}
	return false
}

// servePackages answers a package request. A Security Core status
// becomes the response; a link failure is a bus error, as on the
// forwarding path.
func (c *Coordinator) servePackages(ctx context.Context, call *capbus.Call, request secproto.Request) ([]byte, error) {
	op := request.Opcode()
	if err := request.Validate(); err != nil {
		c.metrics.request(op, secproto.StatusOf(err))
		return secproto.EncodeError(err), nil
	}
	body, err := c.packages.serve(ctx, request)
	var backend *secproto.BackendError
	switch {
	case errors.As(err, &backend):
		c.metrics.request(op, backend.Status)
		return secproto.EncodeError(backend), nil
	case err != nil:
		c.logger.Error("security core exchange failed",
			"identity", call.Identity.String(),
			"opcode", op.String(),
			"error", err,
		)
		c.metrics.linkFailure(op)
		return nil, fmt.Errorf("security core unavailable: %w", err)
	}
	response, err := secproto.EncodeResponse(op, body)
	if err != nil {
		c.metrics.request(op, secproto.StatusSerializeFailed)
		return secproto.EncodeError(secproto.Fail(op, secproto.StatusSerializeFailed, "%v", err)), nil
	}
	c.metrics.request(op, secproto.StatusSuccess)
	return response, nil
}

// authorize applies the bundle binding. An empty label is a system
// client.
func authorize(label string, request secproto.Request) error {
	if label == "" {
		return nil
	}
	var bundle string
	switch request := request.(type) {
	case *secproto.ReadKeyRequest:
		bundle = request.Bundle
	case *secproto.WriteKeyRequest:
		bundle = request.Bundle
	case *secproto.DeleteKeyRequest:
		bundle = request.Bundle
	case *secproto.DeleteBundleRequest:
		return secproto.Fail(request.Opcode(), secproto.StatusPermissionDenied,
			"only system clients may delete a bundle")
	case *secproto.TestRequest:
		return secproto.Fail(request.Opcode(), secproto.StatusPermissionDenied,
			"only system clients may run the mailbox test")
	case *secproto.InstallAppRequest:
		return secproto.Fail(request.Opcode(), secproto.StatusPermissionDenied,
			"only system clients may install applications")
	case *secproto.InstallModelRequest:
		bundle = request.App
	case *secproto.LoadModelRequest:
		bundle = request.Bundle
	default:
		return nil
	}
	if bundle != label {
		return secproto.Fail(request.Opcode(), secproto.StatusPermissionDenied,
			"client bound to bundle %q may not access bundle %q", label, bundle)
	}
	return nil
}
