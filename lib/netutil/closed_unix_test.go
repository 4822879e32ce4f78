// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package netutil

import (
	"net"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func TestIsExpectedCloseErrorErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"broken pipe", &os.SyscallError{Syscall: "write", Err: unix.EPIPE}, true},
		{"reset", &net.OpError{Op: "read", Err: &os.SyscallError{Syscall: "read", Err: unix.ECONNRESET}}, true},
		{"refused", unix.ECONNREFUSED, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsExpectedCloseError(test.err); got != test.want {
				t.Errorf("IsExpectedCloseError(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}
