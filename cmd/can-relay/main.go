// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/sdv-zonal/canbridge/lib/canbus"
	"github.com/sdv-zonal/canbridge/lib/clock"
	"github.com/sdv-zonal/canbridge/lib/config"
	"github.com/sdv-zonal/canbridge/lib/logging"
	"github.com/sdv-zonal/canbridge/lib/metrics"
	"github.com/sdv-zonal/canbridge/lib/netutil"
	"github.com/sdv-zonal/canbridge/lib/process"
	"github.com/sdv-zonal/canbridge/lib/relay"
	"github.com/sdv-zonal/canbridge/lib/service"
	"github.com/sdv-zonal/canbridge/lib/signaldb"
	"github.com/sdv-zonal/canbridge/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("can-relay", pflag.ContinueOnError)
	flags := registerFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.showVersion {
		fmt.Println(version.Banner("can-relay"))
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	cfg, err := config.LoadPath(flags.configPath)
	if err != nil {
		return err
	}
	flags.apply(flagSet, cfg)
	if err := cfg.ValidateRelay(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Verbose: flags.verbose,
		Format:  cfg.Logging.Format,
		File:    cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Info("starting", "version", version.Info())

	relayConfig := cfg.Relay

	var names func(id uint32) string
	var fingerprint string
	if relayConfig.Schema != "" {
		database, err := signaldb.Load(relayConfig.Schema)
		if err != nil {
			return fmt.Errorf("loading schema: %w", err)
		}
		names = database.MessageName
		fingerprint = database.Fingerprint()
		logger.Info("schema loaded",
			"path", relayConfig.Schema,
			"messages", len(database.Messages()),
			"fingerprint", fingerprint,
		)
	}

	bus, err := canbus.Open(relayConfig.CANInterface, logger)
	if err != nil {
		return err
	}
	var writer *canbus.Writer
	if bus != nil {
		defer bus.Close()
		writer = canbus.NewWriter(bus, relayConfig.BusQueue, logger)
	}
	var busListener canbus.Listener
	if relayConfig.BusListen {
		listener, ok := bus.(canbus.Listener)
		if !ok {
			return fmt.Errorf("CAN interface %s cannot be listened to", relayConfig.CANInterface)
		}
		busListener = listener
	}

	hub := relay.NewHub(relayConfig.SubscriberBuffer)
	frameRelay := relay.New(relay.Config{
		Hub:    hub,
		Writer: writer,
		Names:  names,
		Logger: logger,
	})

	// Bind everything before starting any loop so a taken port fails
	// startup cleanly.
	listeners, err := bindListeners(relayConfig)
	if err != nil {
		return err
	}

	clk := clock.Real()
	startedAt := clk.Now()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group := process.NewGroup(ctx)

	ingress := relay.NewIngress(relay.IngressConfig{
		Listener:      listeners.ingress,
		Dispatch:      frameRelay.Dispatch,
		Stats:         frameRelay.Stats(),
		MaxRecordSize: relayConfig.MaxRecordSize,
		IdleTimeout:   relayConfig.IdleTimeout,
		Clock:         clk,
		Logger:        logger.With("component", "ingress"),
	})
	group.Go("ingress", ingress.Serve)

	publisher := relay.NewPublisher(relay.PublisherConfig{
		Listener:          listeners.publish,
		Hub:               hub,
		HeartbeatInterval: relayConfig.HeartbeatInterval,
		Clock:             clk,
		Logger:            logger.With("component", "publisher"),
	})
	group.Go("publisher", publisher.Serve)

	if writer != nil {
		group.Go("bus writer", func(ctx context.Context) error {
			writer.Run(ctx)
			return nil
		})
	}
	if busListener != nil {
		group.Go("bus listener", func(ctx context.Context) error {
			err := busListener.Listen(ctx, frameRelay.DispatchFromBus)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	if relayConfig.StatusSocket != "" {
		server := service.NewSocketServer(relayConfig.StatusSocket, logger)
		server.Handle("status", func(context.Context, []byte) (any, error) {
			return statusResponse{
				Binary:            "can-relay",
				Version:           version.Info(),
				StartedAt:         startedAt,
				Uptime:            clk.Now().Sub(startedAt).Round(time.Second).String(),
				SchemaFingerprint: fingerprint,
				Relay:             frameRelay.Status(),
			}, nil
		})
		group.Go("status socket", server.Serve)
	}

	if listeners.metrics != nil {
		registry := metrics.NewRegistry()
		if err := metrics.RegisterRelay(registry, frameRelay); err != nil {
			listeners.close()
			return err
		}
		group.Go("metrics", func(ctx context.Context) error {
			return metrics.Serve(ctx, listeners.metrics, metrics.Handler(registry), logger)
		})
	}

	group.Go("statistics", func(ctx context.Context) error {
		frameRelay.RunStatisticsLog(ctx, clk, relayConfig.StatsInterval)
		return nil
	})

	logger.Info("relay running",
		"ingress", listeners.ingress.Addr().String(),
		"publish", listeners.publish.Addr().String(),
		"can_interface", relayConfig.CANInterface,
		"bus_listen", relayConfig.BusListen,
	)

	err = group.Wait()
	logger.Info("relay stopped")
	return err
}

// statusResponse is the reply to the "status" action.
type statusResponse struct {
	Binary            string       `json:"binary"`
	Version           string       `json:"version"`
	StartedAt         time.Time    `json:"started_at"`
	Uptime            string       `json:"uptime"`
	SchemaFingerprint string       `json:"schema_fingerprint,omitempty"`
	Relay             relay.Status `json:"relay"`
}

type relayListeners struct {
	ingress net.Listener
	publish net.Listener
	metrics net.Listener
}

func bindListeners(cfg config.RelayConfig) (*relayListeners, error) {
	listeners := &relayListeners{}
	bind := func(name, host string, port int) (net.Listener, error) {
		address, err := netutil.JoinHostPort(host, port)
		if err != nil {
			listeners.close()
			return nil, fmt.Errorf("binding %s: %w", name, err)
		}
		listener, err := net.Listen("tcp", address)
		if err != nil {
			listeners.close()
			return nil, fmt.Errorf("binding %s: %w", name, err)
		}
		return listener, nil
	}

	var err error
	if listeners.ingress, err = bind("ingress", cfg.Host, cfg.Port); err != nil {
		return nil, err
	}
	if listeners.publish, err = bind("publisher", cfg.PublishHost, cfg.PublishPort); err != nil {
		return nil, err
	}
	if cfg.MetricsAddress != "" {
		listener, err := net.Listen("tcp", cfg.MetricsAddress)
		if err != nil {
			listeners.close()
			return nil, fmt.Errorf("binding metrics: %w", err)
		}
		listeners.metrics = listener
	}
	return listeners, nil
}

func (l *relayListeners) close() {
	for _, listener := range []net.Listener{l.ingress, l.publish, l.metrics} {
		if listener != nil {
			listener.Close()
		}
	}
}
