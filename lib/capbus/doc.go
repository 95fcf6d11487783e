// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package capbus is the capability-mediated RPC bus that lets isolated
// components call one server interface without trusting each other.
//
// A [Server] owns one interface. Every client attaches through
// [Server.Connect], which mints an unforgeable [Identity] (a badge the
// client never sees or chooses) and grants the client a shared window
// from a [region.Allocator]. Payloads travel through that window: a
// client's [Client.Call] copies the request in, the server reads it as
// [Call.Request], and [Server.Reply] copies the response back over it.
//
// Properties the bus guarantees:
//
//   - Identity is attached by the bus, so a server always knows which
//     client a request came from, and one client can never read or
//     overwrite another client's window.
//   - A client has at most one outstanding call. A second concurrent
//     Call on the same client blocks until the first completes.
//   - Calls from different clients are delivered to the server in
//     arrival order; nothing else is promised across clients.
//   - Payloads never exceed the window. An oversize request or reply
//     fails with [ErrFrameTooLarge] before anything is copied; the bus
//     never fragments.
//   - A call whose window does not belong to its identity is failed
//     with [ErrProtocolViolation]. Only the offending client sees the
//     error; the server keeps serving everyone else.
//   - Tearing down either side fails the in-flight call with
//     [ErrChannelClosed]. A call is delivered at most once.
//
// Servers either drive the loop themselves with [Server.Accept] and
// [Server.Reply], or register one [HandlerFunc] per opcode (the first
// request byte) with [Server.Handle] and run [Server.Serve].
//
// [ListenSocket] bridges a bus onto a Unix socket for components in
// other processes: each socket connection is one bus client, and an
// optional [Authenticator] decides the label the connection attaches
// with. [DialSocket] is the matching client. Both the in-process
// [Client] and the [SocketClient] satisfy [Caller].
package capbus
