// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/seclink/cmd/seclink/cli"
	"github.com/bureau-foundation/seclink/lib/process"
	"github.com/bureau-foundation/seclink/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := &app{stdout: os.Stdout, stdin: os.Stdin}
	return application.root().Execute(ctx, os.Args[1:])
}

// app carries the streams commands read and write, so tests can
// capture them.
type app struct {
	stdout io.Writer
	stdin  io.Reader
}

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name: "seclink",
		Description: `Client for the seclink Security Core coordinator.

Builtin and key store commands connect to the coordinator's bus
socket. The token presented on attach binds the connection to one key
bundle; without a token the connection is a system client.`,
		Subcommands: []*cli.Command{
			a.listCommand(),
			a.fetchCommand(),
			a.measureCommand(),
			a.getCommand(),
			a.putCommand(),
			a.deleteCommand(),
			a.deleteBundleCommand(),
			a.selftestCommand(),
			a.packagesCommand(),
			a.loadCommand(),
			a.sizeCommand(),
			a.installCommand(),
			a.packCommand(),
			a.inspectCommand(),
			a.keygenCommand(),
			a.tokenCommand(),
			a.versionCommand(),
		},
		Examples: []cli.Example{
			{Description: "List builtin files", Command: "seclink list"},
			{Description: "Store a value in your bundle", Command: "seclink put app1 api-token s3cret --token-file app1.token"},
			{Description: "Build a builtin archive", Command: "seclink pack -o builtins.slar model.bin config.json"},
		},
	}
}

func (a *app) versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(ctx context.Context, args []string) error {
			fmt.Fprintf(a.stdout, "seclink %s\n", version.Full())
			return nil
		},
	}
}
