// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command-line framework for the seclink CLI.
//
// The central type is [Command]: a named command with optional nested
// [Command.Subcommands], a [pflag.FlagSet] factory, and a Run function.
// [Command.Execute] parses flags, routes subcommands, and prints help
// with examples. An unknown subcommand or flag gets a "did you mean"
// hint when a known name is within edit distance 3.
//
// Output helpers: [WriteJSON] for --json output, [WriteValue] for key
// store values (hex dump on a terminal, raw bytes otherwise), and
// [NewCommandLogger].
package cli
