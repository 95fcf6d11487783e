// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secproto defines the Secure Request Protocol spoken between
// security clients, the security coordinator, and the Security Core.
//
// A request is one opcode byte followed by the CBOR encoding of the
// opcode's request record. A response is the CBOR encoding of a
// [Response]: a [Status] and, on success, the opcode's response record.
// Every record is a CBOR array (toarray) under Core Deterministic
// Encoding, so a given request always encodes to the same bytes.
//
// The same bytes travel on the capability bus and, as a mailbox frame
// payload, to the Security Core. Encoded requests and responses are
// bounded by [MaxMessageSize], the bus window size; larger transfers
// (builtin files) are chunked by the caller with [GetFilePageRequest].
package secproto
