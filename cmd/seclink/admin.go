// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/seclink/cmd/seclink/cli"
	"github.com/bureau-foundation/seclink/lib/captoken"
	"github.com/bureau-foundation/seclink/lib/config"
	"github.com/bureau-foundation/seclink/lib/sealed"
	"github.com/bureau-foundation/seclink/lib/seccore"
)

func (a *app) packCommand() *cli.Command {
	var output, compression string
	command := &cli.Command{
		Name:    "pack",
		Summary: "Build a builtin archive from files",
		Usage:   "seclink pack -o <archive> [name=]<file>... [flags]",
		Description: `Build a builtin archive. Each file is stored under its base name, or
under NAME when given as NAME=PATH. Files that do not shrink under the
chosen compression are stored uncompressed.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("pack", pflag.ContinueOnError)
			flagSet.StringVarP(&output, "output", "o", "", "archive to write (required)")
			flagSet.StringVar(&compression, "compression", "zstd", "none, lz4 or zstd")
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if output == "" {
			return fmt.Errorf("--output is required")
		}
		if len(args) == 0 {
			return fmt.Errorf("at least one file is required")
		}
		tag, err := seccore.ParseCompression(compression)
		if err != nil {
			return err
		}

		var builder seccore.ArchiveBuilder
		for _, arg := range args {
			name, path := filepath.Base(arg), arg
			if before, after, found := strings.Cut(arg, "="); found {
				name, path = before, after
			}
			contents, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			if err := builder.Add(name, contents, tag); err != nil {
				return err
			}
		}
		image, err := builder.Bytes()
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, image, 0644); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "wrote %s: %d files, %d bytes\n", output, len(args), len(image))
		return nil
	}
	return command
}

func (a *app) inspectCommand() *cli.Command {
	command := &cli.Command{
		Name:    "inspect",
		Summary: "Verify a builtin archive and list its entries",
		Usage:   "seclink inspect <archive>",
	}
	command.Run = func(ctx context.Context, args []string) error {
		if err := command.ExpectArgs(args, 1); err != nil {
			return err
		}
		archive, err := seccore.LoadArchive(args[0])
		if err != nil {
			return err
		}
		writer := tabwriter.NewWriter(a.stdout, 2, 0, 2, ' ', 0)
		fmt.Fprintln(writer, "NAME\tSIZE\tBLAKE3")
		for _, name := range archive.Names() {
			measurement, _, err := archive.Measurement(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(writer, "%s\t%d\t%s\n", name, measurement.Size, hex.EncodeToString(measurement.Digest[:]))
		}
		return writer.Flush()
	}
	return command
}

func (a *app) keygenCommand() *cli.Command {
	var output string
	var recipients []string
	command := &cli.Command{
		Name:    "keygen",
		Summary: "Generate a key store root key",
		Usage:   "seclink keygen -o <file> [--recipient age1...]... [flags]",
		Description: `Generate the root key that seals key store values at rest. With
--recipient the key file is age-encrypted to those recipients; point
keystore.identity at a matching identity to use it.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVarP(&output, "output", "o", "", "key file to create (required)")
			flagSet.StringArrayVar(&recipients, "recipient", nil, "age recipient to encrypt the key to")
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if err := command.ExpectArgs(args, 0); err != nil {
			return err
		}
		if output == "" {
			return fmt.Errorf("--output is required")
		}
		for _, recipient := range recipients {
			if err := sealed.ParseRecipient(recipient); err != nil {
				return err
			}
		}

		root, err := seccore.GenerateRootKey()
		if err != nil {
			return err
		}
		defer root.Close()
		text, err := seccore.EncodeRootKey(root)
		if err != nil {
			return err
		}
		defer text.Close()

		contents := text.Bytes()
		if len(recipients) > 0 {
			if contents, err = sealed.Seal(contents, recipients); err != nil {
				return err
			}
		}
		file, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			return err
		}
		if _, err := file.Write(contents); err != nil {
			file.Close()
			return err
		}
		return file.Close()
	}
	return command
}

func (a *app) tokenCommand() *cli.Command {
	return &cli.Command{
		Name:    "token",
		Summary: "Manage attach tokens",
		Subcommands: []*cli.Command{
			a.tokenInitCommand(),
			a.tokenIssueCommand(),
		},
	}
}

func (a *app) tokenInitCommand() *cli.Command {
	var keyDir string
	command := &cli.Command{
		Name:    "init",
		Summary: "Create the token signing keypair",
		Usage:   "seclink token init --key-dir <dir>",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("init", pflag.ContinueOnError)
			flagSet.StringVar(&keyDir, "key-dir", config.Default().Auth.KeyDir, "keypair directory")
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if err := command.ExpectArgs(args, 0); err != nil {
			return err
		}
		if err := os.MkdirAll(keyDir, 0700); err != nil {
			return err
		}
		public, _, generated, err := captoken.LoadOrGenerateKeypair(keyDir)
		if err != nil {
			return err
		}
		state := "existing"
		if generated {
			state = "new"
		}
		fmt.Fprintf(a.stdout, "%s signing key in %s (public %s)\n", state, keyDir, hex.EncodeToString(public))
		return nil
	}
	return command
}

func (a *app) tokenIssueCommand() *cli.Command {
	var keyDir, audience, output string
	var ttl time.Duration
	defaults := config.Default()
	command := &cli.Command{
		Name:    "issue",
		Summary: "Mint an attach token",
		Usage:   "seclink token issue [bundle] -o <file> [flags]",
		Description: `Mint a token binding a connection to one key bundle. Without a
bundle the token attaches as a system client.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("issue", pflag.ContinueOnError)
			flagSet.StringVar(&keyDir, "key-dir", defaults.Auth.KeyDir, "keypair directory")
			flagSet.StringVar(&audience, "interface", defaults.Bus.Interface, "bus interface the token is valid for")
			flagSet.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
			flagSet.StringVarP(&output, "output", "o", "", "token file to write (required)")
			return flagSet
		},
	}
	command.Run = func(ctx context.Context, args []string) error {
		if len(args) > 1 {
			return command.ExpectArgs(args, 1)
		}
		if output == "" {
			return fmt.Errorf("--output is required")
		}
		if ttl <= 0 {
			return fmt.Errorf("--ttl must be positive")
		}
		bundle := ""
		if len(args) == 1 {
			bundle = args[0]
		}

		_, private, err := captoken.LoadKeypair(keyDir)
		if err != nil {
			return err
		}
		issuer := &captoken.Issuer{PrivateKey: private, Audience: audience, TTL: ttl}
		encoded, token, err := issuer.Issue(bundle)
		if err != nil {
			return err
		}
		if err := os.WriteFile(output, encoded, 0600); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "token %s for %q expires %s\n",
			token.ID, bundle, time.Unix(token.ExpiresAt, 0).UTC().Format(time.RFC3339))
		return nil
	}
	return command
}
