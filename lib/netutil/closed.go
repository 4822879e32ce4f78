// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies connection errors and resolves listen
// addresses for the relay's TCP endpoints.
package netutil

import (
	"errors"
	"io"
	"net"
)

// IsExpectedCloseError reports whether err is a normal end of a
// connection: EOF, a locally closed socket, a broken pipe, or a reset
// from the peer. Producers and subscribers disconnect at will, so these
// are logged at debug level rather than as errors.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return isPeerGone(err)
}

// IsTimeout reports whether err is a deadline expiry on a connection.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
