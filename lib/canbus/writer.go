// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package canbus

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/sdv-zonal/canbridge/lib/canframe"
)

// DefaultQueueSize is the Writer queue capacity when none is given.
const DefaultQueueSize = 256

// Writer puts a bounded queue in front of a Bus so that ingest never
// waits on the bus. When the queue is full the newest frame is
// dropped and counted.
type Writer struct {
	bus    Bus
	queue  chan canframe.Frame
	logger *slog.Logger

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// WriterStats is a point-in-time copy of a Writer's counters.
type WriterStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
	Queued  int    `json:"queued"`
}

// NewWriter returns a Writer for bus. queueSize <= 0 selects
// DefaultQueueSize. Call Run to start delivering.
func NewWriter(bus Bus, queueSize int, logger *slog.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Writer{
		bus:    bus,
		queue:  make(chan canframe.Frame, queueSize),
		logger: logger,
	}
}

// Enqueue queues frame without blocking. Returns false when the queue
// is full and the frame was dropped.
func (w *Writer) Enqueue(frame canframe.Frame) bool {
	select {
	case w.queue <- frame:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Run sends queued frames until ctx is done. Frames still queued at
// cancellation are discarded.
func (w *Writer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-w.queue:
			if err := w.bus.Send(ctx, frame); err != nil {
				if ctx.Err() != nil {
					return
				}
				// Only the first failure is logged at warn; a dead
				// interface would otherwise log once per frame.
				if w.failed.Add(1) == 1 {
					w.logger.Warn("bus write failed", "frame", frame.String(), "error", err)
				} else {
					w.logger.Debug("bus write failed", "frame", frame.String(), "error", err)
				}
				continue
			}
			w.sent.Add(1)
		}
	}
}

// Stats returns the current counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Sent:    w.sent.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
		Queued:  len(w.queue),
	}
}
