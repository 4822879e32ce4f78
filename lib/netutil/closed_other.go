// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package netutil

import (
	"errors"
	"syscall"
)

// isPeerGone reports a broken pipe or a connection reset using the
// portable syscall errno values.
func isPeerGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}
