// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/seclink/cmd/seclink/cli"
	"github.com/bureau-foundation/seclink/lib/seccoord"
)

func (a *app) packagesCommand() *cli.Command {
	var conn connection
	var outputJSON bool
	command := &cli.Command{
		Name:    "packages",
		Summary: "List loaded bundles and builtins",
		Usage:   "seclink packages [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("packages", pflag.ContinueOnError)
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
			names, err := client.GetPackages(ctx)
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

type loadedOutput struct {
	Key  string `json:"key"`
	Size uint32 `json:"size"`
}

func (a *app) loadCommand() *cli.Command {
	var conn connection
	var model, output string
	var outputJSON bool
	command := &cli.Command{
		Name:    "load",
		Summary: "Load an application or model bundle",
		Usage:   "seclink load <bundle> [flags]",
		Description: `Load an application bundle, registering it from the builtins under
its name or its name with ".app" appended. With --model, load that
model for the bundle instead; model names are never extended.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("load", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.StringVar(&model, "model", "", "load this model for the bundle")
			flagSet.StringVarP(&output, "output", "o", "", "also write the contents to this file")
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if err := command.ExpectArgs(args, 1); err != nil {
			return err
		}
		return conn.withClient(ctx, func(ctx context.Context, client *seccoord.Client) error {
			var loaded seccoord.Loaded
			var err error
			if model != "" {
				loaded, err = client.LoadModel(ctx, args[0], model)
			} else {
				loaded, err = client.LoadApplication(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if output != "" {
				contents, err := client.ReadLoaded(ctx, loaded)
				if err != nil {
					return err
				}
				if err := os.WriteFile(output, contents, 0644); err != nil {
					return err
				}
			}
			if outputJSON {
				return cli.WriteJSON(a.stdout, loadedOutput{Key: loaded.Key, Size: loaded.Size})
			}
			fmt.Fprintf(a.stdout, "%s  %d\n", loaded.Key, loaded.Size)
			return nil
		})
	}
	return command
}

func (a *app) sizeCommand() *cli.Command {
	var conn connection
	command := &cli.Command{
		Name:    "size",
		Summary: "Print the size of a loaded bundle",
		Usage:   "seclink size <bundle> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("size", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if err := command.ExpectArgs(args, 1); err != nil {
			return err
		}
		return conn.withClient(ctx, func(ctx context.Context, client *seccoord.Client) error {
			size, err := client.SizeBuffer(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, size)
			return nil
		})
	}
	return command
}

func (a *app) installCommand() *cli.Command {
	var conn connection
	var model string
	command := &cli.Command{
		Name:    "install",
		Summary: "Install an application or model",
		Usage:   "seclink install <app> [flags]",
		Description: `Ask the coordinator to install an application, or with --model a
model for the application. Packages come only from the builtin
archive: the answer is DeleteFirst when the name is already loaded and
InstallFailed otherwise.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("install", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.StringVar(&model, "model", "", "install this model for the application")
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if err := command.ExpectArgs(args, 1); err != nil {
			return err
		}
		return conn.withClient(ctx, func(ctx context.Context, client *seccoord.Client) error {
			if model != "" {
				return client.InstallModel(ctx, args[0], model)
			}
			return client.InstallApp(ctx, args[0])
		})
	}
	return command
}
