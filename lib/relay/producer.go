// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/clock"
	"github.com/sdv-zonal/canbridge/lib/codec"
)

// Producer defaults.
const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = time.Second
	maxRetryDelay      = 30 * time.Second
	producerTimeout    = 5 * time.Second
)

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	// Address is the relay ingress address (host:port). Required.
	Address string

	// Source names this producer in the relay's logs.
	Source string

	// MaxAttempts bounds how many times one Send tries to connect and
	// write before giving up. Zero selects DefaultMaxAttempts.
	MaxAttempts int

	// RetryDelay is the wait before the second attempt; it doubles on
	// each further attempt up to 30s. Zero selects DefaultRetryDelay.
	RetryDelay time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Producer sends frames to a relay's ingress. It connects lazily and
// reconnects when a write fails. Safe for concurrent use; sends are
// serialized.
type Producer struct {
	address     string
	source      string
	maxAttempts int
	retryDelay  time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	encoder *codec.Encoder
	closed  bool
	sent    uint64
}

// NewProducer creates a Producer. No connection is made until the
// first Send.
func NewProducer(config ProducerConfig) *Producer {
	producer := &Producer{
		address:     config.Address,
		source:      config.Source,
		maxAttempts: config.MaxAttempts,
		retryDelay:  config.RetryDelay,
		clock:       config.Clock,
		logger:      config.Logger,
	}
	if producer.maxAttempts <= 0 {
		producer.maxAttempts = DefaultMaxAttempts
	}
	if producer.retryDelay <= 0 {
		producer.retryDelay = DefaultRetryDelay
	}
	if producer.clock == nil {
		producer.clock = clock.Real()
	}
	if producer.logger == nil {
		producer.logger = slog.New(slog.DiscardHandler)
	}
	return producer
}

// Send writes one frame, reconnecting as needed. It fails after
// MaxAttempts unsuccessful attempts or when ctx is cancelled.
func (p *Producer) Send(ctx context.Context, frame canframe.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	wire := canframe.ToWire(frame, p.source)
	delay := p.retryDelay

	for attempt := 1; ; attempt++ {
		if p.closed {
			return ErrProducerClosed
		}
		err := p.trySend(ctx, wire)
		if err == nil {
			p.sent++
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= p.maxAttempts {
			return fmt.Errorf("sending frame %s after %d attempts: %w", frame, attempt, err)
		}

		p.logger.Warn("send to relay failed, will retry",
			"error", err,
			"attempt", attempt,
			"max_attempts", p.maxAttempts,
			"backoff", delay,
		)
		select {
		case <-p.clock.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

func (p *Producer) trySend(ctx context.Context, wire canframe.WireFrame) error {
	if p.conn == nil {
		dialContext, cancel := context.WithTimeout(ctx, producerTimeout)
		defer cancel()
		var dialer net.Dialer
		conn, err := dialer.DialContext(dialContext, "tcp", p.address)
		if err != nil {
			return fmt.Errorf("connecting to relay at %s: %w", p.address, err)
		}
		p.conn = conn
		p.encoder = codec.NewEncoder(conn)
		p.logger.Info("connected to relay", "address", p.address)
	}

	p.conn.SetWriteDeadline(time.Now().Add(producerTimeout))
	if err := p.encoder.Encode(wire); err != nil {
		p.conn.Close()
		p.conn = nil
		p.encoder = nil
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Sent returns how many frames have been written successfully.
func (p *Producer) Sent() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Close closes the connection. Later sends fail with
// ErrProducerClosed.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	p.encoder = nil
	return err
}
