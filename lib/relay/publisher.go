// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/clock"
	"github.com/sdv-zonal/canbridge/lib/codec"
)

// Publisher defaults.
const (
	DefaultHeartbeatInterval = 10 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	handshakeTimeout         = 5 * time.Second
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Listener accepts subscriber connections. Required. Serve closes
	// it.
	Listener net.Listener

	// Hub is the frame source. Required.
	Hub *Hub

	// HeartbeatInterval is the time between heartbeats on an otherwise
	// idle stream. Zero selects DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// WriteTimeout bounds each write to a subscriber. A subscriber that
	// stops reading is disconnected after this long. Zero selects 10s.
	WriteTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Publisher serves the subscriber side of the relay over TCP. Each
// connection sends a SubscribeRequest, receives an ack, and then
// receives frame and heartbeat messages until either side closes.
type Publisher struct {
	listener     net.Listener
	hub          *Hub
	heartbeat    time.Duration
	writeTimeout time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	activeConnections sync.WaitGroup
}

// NewPublisher creates a Publisher from config.
func NewPublisher(config PublisherConfig) *Publisher {
	publisher := &Publisher{
		listener:     config.Listener,
		hub:          config.Hub,
		heartbeat:    config.HeartbeatInterval,
		writeTimeout: config.WriteTimeout,
		clock:        config.Clock,
		logger:       config.Logger,
	}
	if publisher.heartbeat <= 0 {
		publisher.heartbeat = DefaultHeartbeatInterval
	}
	if publisher.writeTimeout <= 0 {
		publisher.writeTimeout = defaultWriteTimeout
	}
	if publisher.clock == nil {
		publisher.clock = clock.Real()
	}
	if publisher.logger == nil {
		publisher.logger = slog.New(slog.DiscardHandler)
	}
	return publisher
}

// Addr returns the listening address.
func (p *Publisher) Addr() net.Addr { return p.listener.Addr() }

// Serve accepts subscribers until ctx is cancelled, then closes every
// stream and waits for the handlers to return.
func (p *Publisher) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.listener.Close()
	}()

	p.logger.Info("publisher listening", "address", p.listener.Addr().String())

	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				p.activeConnections.Wait()
				return nil
			}
			p.logger.Error("accept failed", "error", err)
			continue
		}

		p.activeConnections.Add(1)
		go func() {
			defer p.activeConnections.Done()
			p.handleSubscriber(ctx, conn)
		}()
	}
}

func (p *Publisher) handleSubscriber(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := p.logger.With("remote", conn.RemoteAddr().String())

	var request SubscribeRequest
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	if err := codec.NewDecoder(conn).Decode(&request); err != nil {
		logger.Warn("reading subscribe request", "error", err)
		return
	}
	conn.SetReadDeadline(time.Time{})
	if request.Client != "" {
		logger = logger.With("client", request.Client)
	}

	// Register before acknowledging: a subscriber that has seen the
	// ack must see every frame published afterwards.
	subscription := p.hub.SubscribeFiltered(IDFilter(request.IDs))
	defer subscription.Close()

	encoder := codec.NewEncoder(conn)
	write := func(message StreamMessage) error {
		conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
		return encoder.Encode(message)
	}

	if err := write(StreamMessage{
		Type:            MessageAck,
		OK:              true,
		HeartbeatMillis: p.heartbeat.Milliseconds(),
	}); err != nil {
		logger.Warn("sending stream ack", "error", err)
		return
	}
	logger.Info("subscriber connected", "ids", len(request.IDs))

	// The subscriber sends nothing after the request. A read returning
	// means it went away.
	streamContext, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		io.Copy(io.Discard, conn)
		cancel()
	}()

	ticker := p.clock.NewTicker(p.heartbeat)
	defer ticker.Stop()

	sent := uint64(0)
	for {
		select {
		case frame, ok := <-subscription.Frames():
			if !ok {
				return
			}
			wire := canframe.ToWire(frame, "")
			if err := write(StreamMessage{Type: MessageFrame, Frame: &wire}); err != nil {
				logger.Info("subscriber stream ended", "error", err, "sent", sent, "dropped", subscription.Dropped())
				return
			}
			sent++

		case <-ticker.C:
			if err := write(StreamMessage{Type: MessageHeartbeat, Dropped: subscription.Dropped()}); err != nil {
				logger.Info("subscriber stream ended", "error", err, "sent", sent, "dropped", subscription.Dropped())
				return
			}

		case <-streamContext.Done():
			logger.Info("subscriber disconnected", "sent", sent, "dropped", subscription.Dropped())
			return
		}
	}
}
