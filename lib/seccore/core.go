// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/seclink/lib/mailbox"
	"github.com/bureau-foundation/seclink/lib/secproto"
)

// Kind selects the Security Core backend.
type Kind string

const (
	// KindEmulated runs the firmware in process and exchanges
	// requests by direct call.
	KindEmulated Kind = "emulated"

	// KindHardware reaches the firmware through the mailbox transport.
	KindHardware Kind = "hardware"
)

// ParseKind validates a backend name.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindEmulated, KindHardware:
		return Kind(name), nil
	}
	return "", fmt.Errorf("unknown security core backend %q (want %q or %q)", name, KindEmulated, KindHardware)
}

// Config configures Open.
type Config struct {
	Kind Kind

	// Archive is the builtin archive. Nil serves no builtins.
	Archive *Archive

	// Store is the key store. Nil means an unsealed MemoryStore. The
	// Core takes ownership and closes it.
	Store KeyStore

	Logger *slog.Logger

	// Mailbox configures the hardware backend's transport.
	Mailbox mailbox.Config

	// FIFODepth is the simulated mailbox FIFO depth in words. Zero
	// means mailbox.DefaultSimDepth.
	FIFODepth int

	// InlineLimit is the largest reply the Security Core sends inline
	// in the FIFO. Zero means mailbox.DefaultInlineLimit.
	InlineLimit int
}

// Core is the protocol interface to the Security Core over the
// selected backend. The backend is fixed when the Core is opened.
type Core struct {
	*Client

	kind  Kind
	link  link
	store KeyStore
}

type link interface {
	Exchanger
	Close() error
}

// checkRequest applies the checks every link makes before a request
// leaves the host. An oversize request is an error. A request the
// mailbox cannot frame (no opcode byte, or one with the long-frame bit
// set) is answered here with the DeserializeFailed response the
// firmware would give it, so both backends agree byte for byte.
func checkRequest(request []byte) (answer []byte, err error) {
	if len(request) > secproto.MaxMessageSize {
		return nil, fmt.Errorf("%w: request is %d bytes", secproto.ErrFrameTooLarge, len(request))
	}
	if len(request) == 0 || request[0]&mailbox.FlagLong != 0 {
		_, decodeErr := secproto.Decode(request)
		return deserializeFailed(decodeErr), nil
	}
	return nil, nil
}

// deserializeFailed is the response to a request that does not decode.
func deserializeFailed(err error) []byte {
	return secproto.EncodeError(secproto.Fail(0, secproto.StatusDeserializeFailed, "%v", err))
}

// Open starts the backend cfg.Kind selects.
func Open(ctx context.Context, cfg Config) (*Core, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore(nil)
	}
	logger := cfg.Logger.With("backend", string(cfg.Kind))
	firmware := NewFirmware(cfg.Archive, cfg.Store, logger)

	var (
		backend link
		err     error
	)
	switch cfg.Kind {
	case KindEmulated:
		backend = &emulatedLink{firmware: firmware}
	case KindHardware:
		backend, err = openHardware(ctx, cfg, firmware, logger)
	default:
		_, err = ParseKind(string(cfg.Kind))
	}
	if err != nil {
		cfg.Store.Close()
		return nil, err
	}

	logger.Info("security core opened")
	return &Core{Client: NewClient(backend), kind: cfg.Kind, link: backend, store: cfg.Store}, nil
}

// Kind returns the backend in use.
func (c *Core) Kind() Kind { return c.kind }

// Close stops the backend and closes the key store.
func (c *Core) Close() error {
	return errors.Join(c.link.Close(), c.store.Close())
}
