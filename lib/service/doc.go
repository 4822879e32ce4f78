// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the status socket shared by the relay and
// gateway daemons.
//
// A [SocketServer] answers one CBOR request per Unix socket
// connection. The request is a map whose "action" field selects a
// registered [ActionFunc]; the reply is a [Response] envelope with the
// handler's result encoded in its data field. CBOR is self-delimiting,
// so no framing is needed. [ServiceClient] is the matching client used
// by canctl.
//
// Access control is the socket file's permissions. The socket only
// exposes read-only status; nothing it serves changes daemon state.
package service
