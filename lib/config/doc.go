// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for seclink components.
//
// Configuration is loaded from a single file specified by either the
// SECLINK_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. The file is YAML unless its name ends
// in .json or .jsonc, in which case it is JSON with comments allowed.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production defaults are stricter:
// connection tokens are required, and a persistent key store must be
// sealed with a root key.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${SECLINK_ROOT}, and ${VAR:-default} patterns are expanded.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Paths, Core, Bus, Mailbox,
//     KeyStore, Auth and Metrics
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other seclink packages.
package config
