// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sdv-zonal/canbridge/lib/gateway"
	"github.com/sdv-zonal/canbridge/lib/store"
)

var (
	gatewayLabels = []string{"controller"}

	framesReceivedDesc = prometheus.NewDesc(metricPrefix+"gateway_frames_received_total",
		"Frames received from the subscription.", gatewayLabels, nil)
	framesDecodedDesc = prometheus.NewDesc(metricPrefix+"gateway_frames_decoded_total",
		"Frames decoded against the signal database.", gatewayLabels, nil)
	samplesMappedDesc = prometheus.NewDesc(metricPrefix+"gateway_samples_mapped_total",
		"Signals converted to samples.", gatewayLabels, nil)
	samplesPersistedDesc = prometheus.NewDesc(metricPrefix+"gateway_samples_persisted_total",
		"Samples durably stored.", gatewayLabels, nil)
	outOfRangeDesc = prometheus.NewDesc(metricPrefix+"gateway_out_of_range_total",
		"Decoded signals outside their configured range.", gatewayLabels, nil)
	subscriptionsDesc = prometheus.NewDesc(metricPrefix+"gateway_subscriptions_total",
		"Successful subscriptions, including resubscriptions.", gatewayLabels, nil)
	errorsDesc = prometheus.NewDesc(metricPrefix+"gateway_errors_total",
		"Processing errors by kind.", []string{"controller", "kind"}, nil)
	stateDesc = prometheus.NewDesc(metricPrefix+"gateway_state",
		"Controller state: 0 idle, 1 subscribing, 2 running, 3 draining, 4 stopped.", gatewayLabels, nil)
)

// gatewayCollector reads controller snapshots at scrape time.
type gatewayCollector struct {
	controllers []*gateway.Controller
}

// RegisterGateway exposes the counters of every controller, labelled
// by controller name.
func RegisterGateway(registerer prometheus.Registerer, controllers ...*gateway.Controller) error {
	return register(registerer, &gatewayCollector{controllers: controllers})
}

func (c *gatewayCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range []*prometheus.Desc{
		framesReceivedDesc, framesDecodedDesc, samplesMappedDesc, samplesPersistedDesc,
		outOfRangeDesc, subscriptionsDesc, errorsDesc, stateDesc,
	} {
		ch <- desc
	}
}

func (c *gatewayCollector) Collect(ch chan<- prometheus.Metric) {
	for _, controller := range c.controllers {
		name := controller.Name()
		snapshot := controller.Stats().Snapshot()

		counter := func(desc *prometheus.Desc, value uint64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(value), name)
		}
		counter(framesReceivedDesc, snapshot.FramesReceived)
		counter(framesDecodedDesc, snapshot.FramesDecoded)
		counter(samplesMappedDesc, snapshot.SamplesMapped)
		counter(samplesPersistedDesc, snapshot.SamplesPersisted)
		counter(outOfRangeDesc, snapshot.OutOfRange)
		counter(subscriptionsDesc, snapshot.Subscriptions)
		for _, kind := range gateway.ErrorKinds {
			ch <- prometheus.MustNewConstMetric(errorsDesc, prometheus.CounterValue,
				float64(snapshot.Errors[kind]), name, string(kind))
		}
		ch <- prometheus.MustNewConstMetric(stateDesc, prometheus.GaugeValue, float64(snapshot.State), name)
	}
}

// RegisterStore exposes the stored row counts as gauges. Each scrape
// runs one COUNT query per table on a pooled read connection.
func RegisterStore(registerer prometheus.Registerer, st *store.Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	count := func(field func(store.Counts) int64) func() float64 {
		return func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			counts, err := st.Counts(ctx)
			if err != nil {
				logger.Warn("metrics store count failed", "error", err)
				return 0
			}
			return float64(field(counts))
		}
	}
	return register(registerer,
		gaugeFunc("store_frames", "Raw frames in the store.",
			count(func(c store.Counts) int64 { return c.Frames })),
		gaugeFunc("store_signals", "Decoded signal values in the store.",
			count(func(c store.Counts) int64 { return c.Signals })),
		gaugeFunc("store_samples", "Samples in the store.",
			count(func(c store.Counts) int64 { return c.Samples })),
	)
}
