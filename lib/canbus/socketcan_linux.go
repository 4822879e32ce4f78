// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package canbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/brutella/can"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/clock"
)

// Identifier flag bits of the Linux can_frame (linux/can.h).
const (
	effFlag = 0x80000000
	rtrFlag = 0x40000000
	errFlag = 0x20000000
)

// SocketCAN is a raw CAN socket on a kernel interface.
type SocketCAN struct {
	name   string
	bus    *can.Bus
	clock  clock.Clock
	logger *slog.Logger

	// sendMu serializes writes on the shared socket.
	sendMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// OpenSocketCAN binds a raw socket to the named interface. The
// interface must exist and be up.
func OpenSocketCAN(name string, logger *slog.Logger) (*SocketCAN, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	if iface.Flags&net.FlagUp == 0 {
		return nil, fmt.Errorf("interface %s is down", name)
	}
	conn, err := can.NewReadWriteCloserForInterface(iface)
	if err != nil {
		return nil, err
	}
	logger.Info("socketcan bus opened", "interface", name, "mtu", iface.MTU)
	return &SocketCAN{
		name:   name,
		bus:    can.NewBus(conn),
		clock:  clock.Real(),
		logger: logger,
	}, nil
}

// Send writes one frame to the interface.
func (s *SocketCAN) Send(ctx context.Context, frame canframe.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := frame.ID
	if frame.Extended {
		id |= effFlag
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.bus.Publish(can.Frame{
		ID:     id,
		Length: frame.DLC,
		Data:   frame.Data,
	})
}

// Listen reads frames from the interface until ctx is done or the
// socket fails. Error and remote-request frames are skipped.
func (s *SocketCAN) Listen(ctx context.Context, handler func(canframe.Frame)) error {
	s.bus.SubscribeFunc(func(received can.Frame) {
		if received.ID&(rtrFlag|errFlag) != 0 {
			return
		}
		extended := received.ID&effFlag != 0
		id := received.ID &^ effFlag
		length := min(int(received.Length), canframe.MaxDLC)
		frame, err := canframe.New(id, extended, s.clock.Now(), received.Data[:length])
		if err != nil {
			s.logger.Debug("dropping invalid frame from bus", "interface", s.name, "error", err)
			return
		}
		handler(frame)
	})

	readDone := make(chan error, 1)
	go func() { readDone <- s.bus.ConnectAndPublish() }()

	select {
	case <-ctx.Done():
		s.Close()
		<-readDone
		return ctx.Err()
	case err := <-readDone:
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("reading %s: %w", s.name, err)
	}
}

// Close closes the socket. Idempotent.
func (s *SocketCAN) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.bus.Disconnect()
	})
	return s.closeErr
}
