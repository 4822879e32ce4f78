// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sdv-zonal/canbridge/lib/relay"
)

// RegisterRelay exposes the relay's ingress, hub and bus counters.
// Values are read from the relay at scrape time.
func RegisterRelay(registerer prometheus.Registerer, r *relay.Relay) error {
	ingress := func(field func(relay.StatsSnapshot) float64) func() float64 {
		return func() float64 { return field(r.Stats().Snapshot(nil)) }
	}
	hub := func(field func(relay.HubStats) float64) func() float64 {
		return func() float64 { return field(r.Hub().Stats()) }
	}
	bus := func(field func(*relay.Status) float64) func() float64 {
		return func() float64 {
			status := r.Status()
			if status.Bus == nil {
				return 0
			}
			return field(&status)
		}
	}

	return register(registerer,
		counterFunc("relay_connections_total", "Producer connections accepted.",
			ingress(func(s relay.StatsSnapshot) float64 { return float64(s.ConnectionsTotal) })),
		gaugeFunc("relay_connections_active", "Producer connections currently open.",
			ingress(func(s relay.StatsSnapshot) float64 { return float64(s.ConnectionsActive) })),
		counterFunc("relay_frames_received_total", "Frames accepted from producers and the local bus.",
			ingress(func(s relay.StatsSnapshot) float64 { return float64(s.FramesReceived) })),
		counterFunc("relay_bytes_received_total", "Encoded record bytes read from producers.",
			ingress(func(s relay.StatsSnapshot) float64 { return float64(s.BytesReceived) })),
		counterFunc("relay_protocol_violations_total", "Producer connections closed for a malformed or invalid record.",
			ingress(func(s relay.StatsSnapshot) float64 { return float64(s.ProtocolViolations) })),
		counterFunc("relay_frames_published_total", "Frames offered to subscribers.",
			hub(func(s relay.HubStats) float64 { return float64(s.Published) })),
		counterFunc("relay_subscriber_drops_total", "Frames dropped because a subscriber queue was full.",
			hub(func(s relay.HubStats) float64 { return float64(s.Dropped) })),
		gaugeFunc("relay_subscribers", "Current subscribers.",
			hub(func(s relay.HubStats) float64 { return float64(s.Subscribers) })),
		counterFunc("relay_bus_sent_total", "Frames written to the local CAN bus.",
			bus(func(s *relay.Status) float64 { return float64(s.Bus.Sent) })),
		counterFunc("relay_bus_dropped_total", "Frames dropped because the bus queue was full.",
			bus(func(s *relay.Status) float64 { return float64(s.Bus.Dropped) })),
		counterFunc("relay_bus_failed_total", "Bus writes that failed.",
			bus(func(s *relay.Status) float64 { return float64(s.Bus.Failed) })),
		&frameCountCollector{relay: r},
	)
}

var framesByIDDesc = prometheus.NewDesc(
	metricPrefix+"relay_frames_by_id_total",
	"Frames received per CAN identifier.",
	[]string{"id", "message"}, nil,
)

// frameCountCollector reports the per-identifier counts, whose label
// set grows as new identifiers appear.
type frameCountCollector struct {
	relay *relay.Relay
}

func (c *frameCountCollector) Describe(ch chan<- *prometheus.Desc) { ch <- framesByIDDesc }

func (c *frameCountCollector) Collect(ch chan<- prometheus.Metric) {
	for _, count := range c.relay.Status().Ingress.ByID {
		ch <- prometheus.MustNewConstMetric(framesByIDDesc, prometheus.CounterValue,
			float64(count.Count), count.ID, count.Message)
	}
}
