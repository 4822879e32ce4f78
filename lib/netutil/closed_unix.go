// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package netutil

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isPeerGone reports a broken pipe or a connection reset.
func isPeerGone(err error) bool {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unix.EPIPE || errno == unix.ECONNRESET
	}
	return false
}
