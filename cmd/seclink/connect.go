// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/seclink/lib/capbus"
	"github.com/bureau-foundation/seclink/lib/config"
	"github.com/bureau-foundation/seclink/lib/seccoord"
)

// connection holds the flags shared by every command that talks to
// the coordinator.
type connection struct {
	socketPath string
	tokenFile  string
	timeout    time.Duration
}

func (c *connection) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.socketPath, "socket", config.Default().Bus.SocketPath, "coordinator bus socket")
	flagSet.StringVar(&c.tokenFile, "token-file", os.Getenv("SECLINK_TOKEN_FILE"),
		"attach token file (default $SECLINK_TOKEN_FILE; none attaches as a system client)")
	flagSet.DurationVar(&c.timeout, "timeout", 30*time.Second, "deadline for the whole command")
}

// dial attaches to the coordinator. The returned context carries the
// command deadline; cancel it after closing the client.
func (c *connection) dial(ctx context.Context) (*seccoord.Client, context.Context, context.CancelFunc, error) {
	var token []byte
	if c.tokenFile != "" {
		contents, err := os.ReadFile(c.tokenFile)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("reading token: %w", err)
		}
		token = contents
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	caller, err := capbus.DialSocket(ctx, c.socketPath, token)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("connecting to %s: %w", c.socketPath, err)
	}
	return seccoord.NewClient(caller), ctx, cancel, nil
}

// withClient dials, runs fn, and detaches.
func (c *connection) withClient(ctx context.Context, fn func(ctx context.Context, client *seccoord.Client) error) error {
	client, ctx, cancel, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer client.Close()
	return fn(ctx, client)
}
