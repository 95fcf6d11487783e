// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/seclink/cmd/seclink/cli"
	"github.com/bureau-foundation/seclink/lib/seccoord"
)

func (a *app) listCommand() *cli.Command {
	var conn connection
	var outputJSON bool
	command := &cli.Command{
		Name:    "list",
		Summary: "List builtin files",
		Usage:   "seclink list [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if err := command.ExpectArgs(args, 0); err != nil {
			return err
		}
		return conn.withClient(ctx, func(ctx context.Context, client *seccoord.Client) error {
			names, err := client.ListBuiltins(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(a.stdout, names)
			}
			for _, name := range names {
				fmt.Fprintln(a.stdout, name)
			}
			return nil
		})
	}
	return command
}

func (a *app) fetchCommand() *cli.Command {
	var conn connection
	var output string
	command := &cli.Command{
		Name:    "fetch",
		Summary: "Download a builtin file",
		Usage:   "seclink fetch <name> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("fetch", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if err := command.ExpectArgs(args, 1); err != nil {
			return err
		}
		return conn.withClient(ctx, func(ctx context.Context, client *seccoord.Client) error {
			contents, err := client.FetchBuiltin(ctx, args[0])
			if err != nil {
				return err
			}
			if output == "" {
				_, err = a.stdout.Write(contents)
				return err
			}
			return os.WriteFile(output, contents, 0644)
		})
	}
	return command
}

type measurementOutput struct {
	Name   string `json:"name"`
	Size   uint64 `json:"size"`
	Digest string `json:"blake3"`
}

func (a *app) measureCommand() *cli.Command {
	var conn connection
	var outputJSON bool
	command := &cli.Command{
		Name:    "measure",
		Summary: "Print the size and BLAKE3 digest of a builtin",
		Usage:   "seclink measure <name> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("measure", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if err := command.ExpectArgs(args, 1); err != nil {
			return err
		}
		return conn.withClient(ctx, func(ctx context.Context, client *seccoord.Client) error {
			measurement, err := client.GetMeasurement(ctx, args[0])
			if err != nil {
				return err
			}
			result := measurementOutput{
				Name:   args[0],
				Size:   measurement.Size,
				Digest: hex.EncodeToString(measurement.Digest[:]),
			}
			if outputJSON {
				return cli.WriteJSON(a.stdout, result)
			}
			fmt.Fprintf(a.stdout, "%s  %d  %s\n", result.Digest, result.Size, result.Name)
			return nil
		})
	}
	return command
}

func (a *app) selftestCommand() *cli.Command {
	var conn connection
	var count uint32
	command := &cli.Command{
		Name:    "selftest",
		Summary: "Run the Security Core link self test",
		Usage:   "seclink selftest [flags]",
		Description: `Ask the Security Core for a test page of known words and verify it.
Requires a system client (no token).`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("selftest", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.Uint32Var(&count, "count", 256, "number of 32-bit test words")
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if err := command.ExpectArgs(args, 0); err != nil {
			return err
		}
		return conn.withClient(ctx, func(ctx context.Context, client *seccoord.Client) error {
			if err := client.Test(ctx, count); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "ok: %d words verified\n", count)
			return nil
		})
	}
	return command
}
