// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/codec"
)

// missedHeartbeats is how many heartbeat intervals of silence a
// subscriber tolerates before treating the stream as dead.
const missedHeartbeats = 3

// NetSubscriber is the client side of a Publisher stream.
type NetSubscriber struct {
	conn      net.Conn
	decoder   *codec.Decoder
	heartbeat time.Duration

	dropped   atomic.Uint64
	closeOnce sync.Once
}

// Dial connects to a publisher, sends request, and waits for the ack.
// Frames published after Dial returns are delivered.
func Dial(ctx context.Context, address string, request SubscribeRequest) (*NetSubscriber, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connecting to relay at %s: %w", address, err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if contextDeadline, ok := ctx.Deadline(); ok && contextDeadline.Before(deadline) {
		deadline = contextDeadline
	}
	conn.SetDeadline(deadline)

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending subscribe request: %w", err)
	}

	decoder := codec.NewStreamDecoder(conn)
	var ack StreamMessage
	if err := decoder.Decode(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading stream ack: %w", err)
	}
	if ack.Type != MessageAck || !ack.OK {
		conn.Close()
		if ack.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrStreamRejected, ack.Error)
		}
		return nil, fmt.Errorf("%w: unexpected %q message", ErrStreamRejected, ack.Type)
	}
	conn.SetDeadline(time.Time{})

	return &NetSubscriber{
		conn:      conn,
		decoder:   decoder,
		heartbeat: time.Duration(ack.HeartbeatMillis) * time.Millisecond,
	}, nil
}

// Receive returns the next frame, consuming heartbeats along the way.
// Any error, including cancellation, may leave a record half read;
// close the subscriber afterwards.
func (s *NetSubscriber) Receive(ctx context.Context) (canframe.Frame, error) {
	// Cancellation forces the pending read to fail.
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	for {
		if s.heartbeat > 0 {
			s.conn.SetReadDeadline(time.Now().Add(missedHeartbeats * s.heartbeat))
		} else {
			s.conn.SetReadDeadline(time.Time{})
		}
		if ctx.Err() != nil {
			s.conn.SetReadDeadline(time.Unix(1, 0))
		}

		var message StreamMessage
		if err := s.decoder.Decode(&message); err != nil {
			if ctx.Err() != nil {
				return canframe.Frame{}, ctx.Err()
			}
			return canframe.Frame{}, fmt.Errorf("receiving from relay: %w", err)
		}

		switch message.Type {
		case MessageFrame:
			if message.Frame == nil {
				return canframe.Frame{}, fmt.Errorf("%w: frame message without frame", ErrProtocolViolation)
			}
			frame, err := message.Frame.Frame(time.Now())
			if err != nil {
				return canframe.Frame{}, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
			}
			return frame, nil
		case MessageHeartbeat:
			s.dropped.Store(message.Dropped)
		}
	}
}

// Dropped returns the publisher-side drop count from the most recent
// heartbeat.
func (s *NetSubscriber) Dropped() uint64 { return s.dropped.Load() }

// Close closes the connection, unblocking any pending Receive.
func (s *NetSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}
