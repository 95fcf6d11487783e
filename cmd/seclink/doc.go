// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Seclink is the command-line client for seclink-coordinator. It lists
// and fetches builtin files, loads packages, reads and writes key
// bundles, and runs the link self test over the coordinator's bus
// socket. Offline commands
// build builtin archives, generate key store root keys, and mint
// attach tokens.
package main
