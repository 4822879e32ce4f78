// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package canbus

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sdv-zonal/canbridge/lib/canframe"
)

// SocketCAN is only available on Linux.
type SocketCAN struct{}

// OpenSocketCAN always fails off Linux.
func OpenSocketCAN(name string, logger *slog.Logger) (*SocketCAN, error) {
	return nil, errors.New("SocketCAN requires Linux")
}

func (*SocketCAN) Send(context.Context, canframe.Frame) error { return ErrClosed }

func (*SocketCAN) Listen(context.Context, func(canframe.Frame)) error { return ErrClosed }

func (*SocketCAN) Close() error { return nil }
