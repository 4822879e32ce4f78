// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/clock"
	"github.com/sdv-zonal/canbridge/lib/codec"
	"github.com/sdv-zonal/canbridge/lib/netutil"
)

// DefaultMaxRecordSize bounds one encoded wire record. A well-formed
// record is well under 100 bytes; the slack covers long source names.
const DefaultMaxRecordSize = 4096

// IngressConfig configures an Ingress.
type IngressConfig struct {
	// Listener accepts producer connections. Required. Serve closes it.
	Listener net.Listener

	// Dispatch receives every validated frame. Required.
	Dispatch func(canframe.Frame)

	// Stats is updated for every connection and record. Required.
	Stats *Stats

	// MaxRecordSize is the per-record byte limit. Zero selects
	// DefaultMaxRecordSize.
	MaxRecordSize int

	// IdleTimeout closes a producer connection that sends nothing for
	// this long. Zero disables the timeout.
	IdleTimeout time.Duration

	// Clock timestamps frames that arrive without one. Nil selects the
	// real clock.
	Clock clock.Clock

	Logger *slog.Logger
}

// Ingress accepts producer connections and decodes their wire records.
// Each connection is served by its own goroutine; a protocol violation
// on one connection closes only that connection.
type Ingress struct {
	listener      net.Listener
	dispatch      func(canframe.Frame)
	stats         *Stats
	maxRecordSize int
	idleTimeout   time.Duration
	clock         clock.Clock
	logger        *slog.Logger

	activeConnections sync.WaitGroup
}

// NewIngress creates an Ingress from config.
func NewIngress(config IngressConfig) *Ingress {
	ingress := &Ingress{
		listener:      config.Listener,
		dispatch:      config.Dispatch,
		stats:         config.Stats,
		maxRecordSize: config.MaxRecordSize,
		idleTimeout:   config.IdleTimeout,
		clock:         config.Clock,
		logger:        config.Logger,
	}
	if ingress.maxRecordSize <= 0 {
		ingress.maxRecordSize = DefaultMaxRecordSize
	}
	if ingress.clock == nil {
		ingress.clock = clock.Real()
	}
	if ingress.logger == nil {
		ingress.logger = slog.New(slog.DiscardHandler)
	}
	return ingress
}

// Addr returns the listening address.
func (i *Ingress) Addr() net.Addr { return i.listener.Addr() }

// Serve accepts connections until ctx is cancelled, then closes the
// listener and every open connection and waits for their handlers.
func (i *Ingress) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		i.listener.Close()
	}()

	i.logger.Info("ingress listening", "address", i.listener.Addr().String())

	for {
		conn, err := i.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				i.activeConnections.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				i.activeConnections.Wait()
				return nil
			}
			i.logger.Error("accept failed", "error", err)
			continue
		}

		i.activeConnections.Add(1)
		go func() {
			defer i.activeConnections.Done()
			i.handleConnection(ctx, conn)
		}()
	}
}

func (i *Ingress) handleConnection(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	logger := i.logger.With("remote", remote)

	i.stats.connectionOpened()
	defer i.stats.connectionClosed()

	// Close the connection on shutdown to unblock the pending read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	logger.Info("producer connected")

	limited := &recordLimitReader{reader: conn}
	decoder := codec.NewStreamDecoder(limited)
	records := 0
	consumed := 0

	for {
		if i.idleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(i.idleTimeout))
		}
		limited.reset(i.maxRecordSize)

		var wire canframe.WireFrame
		err := decoder.Decode(&wire)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, io.EOF):
				// Clean close between records.
				logger.Info("producer disconnected", "records", records)
			case errors.Is(err, errRecordLimit):
				i.violation(logger, fmt.Errorf("%w: %w (%d bytes)", ErrProtocolViolation, ErrRecordTooLarge, i.maxRecordSize))
			case netutil.IsTimeout(err):
				logger.Info("producer idle, closing", "idle_timeout", i.idleTimeout, "records", records)
			case netutil.IsExpectedCloseError(err) && !errors.Is(err, io.ErrUnexpectedEOF):
				logger.Info("producer disconnected", "records", records)
			default:
				i.violation(logger, fmt.Errorf("%w: %w", ErrProtocolViolation, err))
			}
			return
		}

		frame, err := wire.Frame(i.clock.Now())
		if err != nil {
			i.violation(logger, fmt.Errorf("%w: %w", ErrProtocolViolation, err))
			return
		}

		records++
		read := decoder.NumBytesRead()
		i.stats.received(frame, read-consumed)
		consumed = read
		if records == 1 && wire.Source != "" {
			logger.Info("producer identified", "source", wire.Source)
		}
		i.dispatch(frame)
	}
}

func (i *Ingress) violation(logger *slog.Logger, err error) {
	i.stats.violation()
	logger.Warn("closing producer connection", "error", err)
}

var errRecordLimit = errors.New("record limit reached")

// recordLimitReader caps how many bytes the decoder may pull from the
// connection while decoding one record. The decoder may read ahead
// into the next record, which only makes later budgets easier to meet.
type recordLimitReader struct {
	reader    io.Reader
	remaining int
}

func (r *recordLimitReader) reset(limit int) { r.remaining = limit }

func (r *recordLimitReader) Read(buffer []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, errRecordLimit
	}
	if len(buffer) > r.remaining {
		buffer = buffer[:r.remaining]
	}
	n, err := r.reader.Read(buffer)
	r.remaining -= n
	return n, err
}
