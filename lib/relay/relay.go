// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/sdv-zonal/canbridge/lib/canbus"
	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/clock"
)

// Relay routes every accepted frame to the local bus writer and the
// subscriber hub. It owns the shared ingress statistics.
type Relay struct {
	hub    *Hub
	writer *canbus.Writer
	stats  *Stats
	names  func(id uint32) string
	logger *slog.Logger
}

// Config configures a Relay.
type Config struct {
	// Hub receives every dispatched frame. Required.
	Hub *Hub

	// Writer forwards frames onto the local CAN bus. Nil disables bus
	// output.
	Writer *canbus.Writer

	// Names labels identifiers in statistics, typically with message
	// names from a loaded schema. Optional.
	Names func(id uint32) string

	Logger *slog.Logger
}

// New creates a relay.
func New(config Config) *Relay {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Relay{
		hub:    config.Hub,
		writer: config.Writer,
		stats:  &Stats{},
		names:  config.Names,
		logger: logger,
	}
}

// Hub returns the subscriber hub.
func (r *Relay) Hub() *Hub { return r.hub }

// Stats returns the shared ingress statistics.
func (r *Relay) Stats() *Stats { return r.stats }

// Dispatch forwards a validated frame from a producer to the bus
// writer and then to subscribers. Neither step blocks.
func (r *Relay) Dispatch(frame canframe.Frame) {
	if r.writer != nil {
		r.writer.Enqueue(frame)
	}
	r.hub.Publish(frame)
}

// DispatchFromBus publishes a frame observed on the local bus. It is
// not written back to the bus.
func (r *Relay) DispatchFromBus(frame canframe.Frame) {
	r.stats.received(frame, 0)
	r.hub.Publish(frame)
}

// Status is the relay section of the status response.
type Status struct {
	Ingress StatsSnapshot       `json:"ingress"`
	Hub     HubStats            `json:"hub"`
	Bus     *canbus.WriterStats `json:"bus,omitempty"`
}

// Status collects every relay counter.
func (r *Relay) Status() Status {
	status := Status{
		Ingress: r.stats.Snapshot(r.names),
		Hub:     r.hub.Stats(),
	}
	if r.writer != nil {
		busStats := r.writer.Stats()
		status.Bus = &busStats
	}
	return status
}

// LogStatistics writes the current counters at info level.
func (r *Relay) LogStatistics(message string) {
	status := r.Status()
	attrs := []any{
		"connections_total", status.Ingress.ConnectionsTotal,
		"connections_active", status.Ingress.ConnectionsActive,
		"frames_received", status.Ingress.FramesReceived,
		"protocol_violations", status.Ingress.ProtocolViolations,
		"subscribers", status.Hub.Subscribers,
		"subscriber_drops", status.Hub.Dropped,
	}
	if status.Bus != nil {
		attrs = append(attrs,
			"bus_sent", status.Bus.Sent,
			"bus_dropped", status.Bus.Dropped,
			"bus_failed", status.Bus.Failed,
		)
	}
	r.logger.Info(message, attrs...)
	for _, count := range status.Ingress.ByID {
		r.logger.Debug("frames by identifier",
			"id", count.ID,
			"message", count.Message,
			"count", count.Count,
		)
	}
}

// RunStatisticsLog logs the counters every interval until ctx is done,
// then logs them one final time.
func (r *Relay) RunStatisticsLog(ctx context.Context, clk clock.Clock, interval time.Duration) {
	defer r.LogStatistics("final relay statistics")
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.LogStatistics("relay statistics")
		case <-ctx.Done():
			return
		}
	}
}
