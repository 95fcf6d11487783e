// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/seclink/cmd/seclink/cli"
	"github.com/bureau-foundation/seclink/lib/seccoord"
	"github.com/bureau-foundation/seclink/lib/secproto"
)

func (a *app) getCommand() *cli.Command {
	var conn connection
	command := &cli.Command{
		Name:    "get",
		Summary: "Read a key from a bundle",
		Usage:   "seclink get <bundle> <key> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if err := command.ExpectArgs(args, 2); err != nil {
			return err
		}
		return conn.withClient(ctx, func(ctx context.Context, client *seccoord.Client) error {
			value, err := client.ReadKey(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return cli.WriteValue(a.stdout, value)
		})
	}
	return command
}

func (a *app) putCommand() *cli.Command {
	var conn connection
	var file string
	command := &cli.Command{
		Name:    "put",
		Summary: "Write a key in a bundle",
		Usage:   "seclink put <bundle> <key> [value] [flags]",
		Description: fmt.Sprintf(`Write a value of at most %d bytes. The value comes from the third
argument, from --file, or from stdin when neither is given.`, secproto.MaxValueSize),
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("put", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.StringVarP(&file, "file", "f", "", "read the value from this file")
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if len(args) != 2 && len(args) != 3 {
			return command.ExpectArgs(args, 2)
		}
		value, err := a.readValue(args[2:], file)
		if err != nil {
			return err
		}
		return conn.withClient(ctx, func(ctx context.Context, client *seccoord.Client) error {
			return client.WriteKey(ctx, args[0], args[1], value)
		})
	}
	return command
}

// readValue picks the value source for put. At most MaxValueSize+1
// bytes are read so oversize input is rejected without buffering it
// all.
func (a *app) readValue(inline []string, file string) ([]byte, error) {
	switch {
	case len(inline) == 1 && file != "":
		return nil, fmt.Errorf("give the value as an argument or with --file, not both")
	case len(inline) == 1:
		return []byte(inline[0]), nil
	}

	source := a.stdin
	if file != "" {
		opened, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer opened.Close()
		source = opened
	}
	value, err := io.ReadAll(io.LimitReader(source, secproto.MaxValueSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading value: %w", err)
	}
	return value, nil
}

func (a *app) deleteCommand() *cli.Command {
	var conn connection
	command := &cli.Command{
		Name:    "delete",
		Summary: "Delete a key from a bundle",
		Usage:   "seclink delete <bundle> <key> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("delete", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if err := command.ExpectArgs(args, 2); err != nil {
			return err
		}
		return conn.withClient(ctx, func(ctx context.Context, client *seccoord.Client) error {
			return client.DeleteKey(ctx, args[0], args[1])
		})
	}
	return command
}

func (a *app) deleteBundleCommand() *cli.Command {
	var conn connection
	command := &cli.Command{
		Name:        "delete-bundle",
		Summary:     "Delete a bundle and every key in it",
		Usage:       "seclink delete-bundle <bundle> [flags]",
		Description: "Delete a whole bundle. Requires a system client (no token).",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("delete-bundle", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if err := command.ExpectArgs(args, 1); err != nil {
			return err
		}
		return conn.withClient(ctx, func(ctx context.Context, client *seccoord.Client) error {
			return client.DeleteBundle(ctx, args[0])
		})
	}
	return command
}
