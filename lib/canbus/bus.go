// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package canbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/sdv-zonal/canbridge/lib/canframe"
)

// ErrClosed is returned by a bus after Close.
var ErrClosed = errors.New("bus closed")

// Bus is a local frame bus the relay writes to.
type Bus interface {
	// Send writes one frame. Implementations may block on a full
	// kernel queue; callers that must not block go through a Writer.
	Send(ctx context.Context, frame canframe.Frame) error

	// Close releases the bus. Pending Listen calls return.
	Close() error
}

// Listener is implemented by buses that can also deliver frames sent
// by other nodes.
type Listener interface {
	// Listen calls handler for every frame observed on the bus until
	// ctx is done or the bus fails. handler runs on the bus's reader
	// goroutine and must not block.
	Listen(ctx context.Context, handler func(canframe.Frame)) error
}

// Names accepted by Open besides kernel interface names.
const (
	// None disables the local bus.
	None = "none"

	// MemoryName selects the in-process Memory bus.
	MemoryName = "memory"
)

// Open returns the bus for an interface name: "none" or empty gives a
// nil Bus, "memory" an in-process bus, anything else a SocketCAN
// interface such as "vcan0".
func Open(name string, logger *slog.Logger) (Bus, error) {
	switch name {
	case "", None:
		return nil, nil
	case MemoryName:
		return NewMemory(), nil
	}
	bus, err := OpenSocketCAN(name, logger)
	if err != nil {
		return nil, fmt.Errorf("opening CAN interface %s: %w", name, err)
	}
	return bus, nil
}

// Memory is an in-process bus. It records every sent frame and lets
// tests inject frames as if another node had sent them.
type Memory struct {
	mu        sync.Mutex
	sent      []canframe.Frame
	listeners map[int]func(canframe.Frame)
	nextID    int
	closed    bool
	done      chan struct{}
}

// NewMemory returns an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{
		listeners: make(map[int]func(canframe.Frame)),
		done:      make(chan struct{}),
	}
}

// Send records the frame.
func (m *Memory) Send(ctx context.Context, frame canframe.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sent = append(m.sent, frame)
	return nil
}

// Sent returns a copy of every frame sent so far.
func (m *Memory) Sent() []canframe.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

// Inject delivers frame to every active listener.
func (m *Memory) Inject(frame canframe.Frame) {
	m.mu.Lock()
	handlers := make([]func(canframe.Frame), 0, len(m.listeners))
	for _, handler := range m.listeners {
		handlers = append(handlers, handler)
	}
	m.mu.Unlock()

	for _, handler := range handlers {
		handler(frame)
	}
}

// Listen registers handler until ctx is done or the bus closes.
func (m *Memory) Listen(ctx context.Context, handler func(canframe.Frame)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = handler
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

// Close stops the bus. Idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}
