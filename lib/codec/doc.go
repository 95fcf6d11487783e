// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration shared by every seclink
// wire format.
//
// Three formats ride on it: Security Core request and response bodies
// (the payload of a mailbox frame or a bus call), the envelopes that
// carry bus calls across the Unix socket bridge, and on-disk artifacts
// such as the builtin archive manifest and signed attach tokens. All of
// them encode with Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. The
// same logical value always produces the same bytes, which is what lets
// the emulated and hardware Security Core backends be compared byte for
// byte.
//
// Two decoders are exposed. [Unmarshal] is lenient and ignores unknown
// map keys; use it for files and envelopes that may gain fields.
// [UnmarshalStrict] rejects unknown fields, duplicate map keys and
// trailing bytes; the Security Core uses it so that a malformed request
// is reported as a deserialization failure instead of being silently
// reinterpreted.
//
// Buffer-oriented use:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Stream-oriented use (socket bridge):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Fixed-layout protocol records use the `cbor:",toarray"` struct tag so
// they encode as positional arrays without field names.
package codec
