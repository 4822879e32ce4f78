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

	"github.com/sdv-zonal/canbridge/lib/clock"
	"github.com/sdv-zonal/canbridge/lib/config"
	"github.com/sdv-zonal/canbridge/lib/gateway"
	"github.com/sdv-zonal/canbridge/lib/logging"
	"github.com/sdv-zonal/canbridge/lib/metrics"
	"github.com/sdv-zonal/canbridge/lib/process"
	"github.com/sdv-zonal/canbridge/lib/service"
	"github.com/sdv-zonal/canbridge/lib/signaldb"
	"github.com/sdv-zonal/canbridge/lib/store"
	"github.com/sdv-zonal/canbridge/lib/version"
	"github.com/sdv-zonal/canbridge/lib/vss"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("can-gateway", pflag.ContinueOnError)
	flags := registerFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.showVersion {
		fmt.Println(version.Banner("can-gateway"))
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
	if err := cfg.ValidateGateway(); err != nil {
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

	gatewayConfig := cfg.Gateway

	database, err := signaldb.Load(gatewayConfig.Schema)
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}
	logger.Info("schema loaded",
		"path", gatewayConfig.Schema,
		"messages", len(database.Messages()),
		"fingerprint", database.Fingerprint(),
	)

	var mapping *vss.Table
	if gatewayConfig.Mapping != "" {
		mapping, err = vss.LoadTable(gatewayConfig.Mapping)
		if err != nil {
			return fmt.Errorf("loading mapping: %w", err)
		}
		if err := mapping.Check(database); err != nil {
			return fmt.Errorf("mapping %s does not match schema %s: %w", gatewayConfig.Mapping, gatewayConfig.Schema, err)
		}
		logger.Info("mapping loaded",
			"path", gatewayConfig.Mapping,
			"entries", mapping.Len(),
			"fingerprint", mapping.Fingerprint(),
		)
	} else {
		logger.Warn("no mapping configured, storing raw frames only")
	}

	st, err := store.Open(store.Config{
		Path:     gatewayConfig.Database,
		PoolSize: gatewayConfig.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	clk := clock.Real()
	controllers, err := buildControllers(gatewayConfig, controllerDependencies{
		database: database,
		mapping:  mapping,
		store:    st,
		clock:    clk,
		logger:   logger,
	}, func(entry subscription) gateway.Source {
		return relaySource(gatewayConfig.Relay, entry.name, entry.ids)
	})
	if err != nil {
		return err
	}

	var metricsListener net.Listener
	if gatewayConfig.MetricsAddress != "" {
		metricsListener, err = net.Listen("tcp", gatewayConfig.MetricsAddress)
		if err != nil {
			return fmt.Errorf("binding metrics: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group := process.NewGroup(ctx)

	for _, controller := range controllers {
		group.Go("controller "+controller.Name(), controller.Run)
	}

	startedAt := clk.Now()
	if gatewayConfig.StatusSocket != "" {
		server := service.NewSocketServer(gatewayConfig.StatusSocket, logger)
		server.Handle("status", func(ctx context.Context, _ []byte) (any, error) {
			counts, err := st.Counts(ctx)
			if err != nil {
				return nil, err
			}
			response := statusResponse{
				Binary:             "can-gateway",
				Version:            version.Info(),
				StartedAt:          startedAt,
				Uptime:             clk.Now().Sub(startedAt).Round(time.Second).String(),
				Relay:              gatewayConfig.Relay,
				Database:           st.Path(),
				SchemaFingerprint:  database.Fingerprint(),
				MappingFingerprint: mappingFingerprint(mapping),
				Store:              counts,
			}
			for _, controller := range controllers {
				response.Controllers = append(response.Controllers, controllerStatus{
					Name:     controller.Name(),
					Snapshot: controller.Stats().Snapshot(),
				})
			}
			return response, nil
		})
		group.Go("status socket", server.Serve)
	}

	if metricsListener != nil {
		registry := metrics.NewRegistry()
		if err := metrics.RegisterGateway(registry, controllers...); err != nil {
			metricsListener.Close()
			return err
		}
		if err := metrics.RegisterStore(registry, st, logger); err != nil {
			metricsListener.Close()
			return err
		}
		group.Go("metrics", func(ctx context.Context) error {
			return metrics.Serve(ctx, metricsListener, metrics.Handler(registry), logger)
		})
	}

	logger.Info("gateway running",
		"relay", gatewayConfig.Relay,
		"database", st.Path(),
		"controllers", len(controllers),
	)

	err = group.Wait()
	logger.Info("gateway stopped")
	return err
}

// statusResponse is the reply to the "status" action.
type statusResponse struct {
	Binary             string             `json:"binary"`
	Version            string             `json:"version"`
	StartedAt          time.Time          `json:"started_at"`
	Uptime             string             `json:"uptime"`
	Relay              string             `json:"relay"`
	Database           string             `json:"database"`
	SchemaFingerprint  string             `json:"schema_fingerprint"`
	MappingFingerprint string             `json:"mapping_fingerprint,omitempty"`
	Store              store.Counts       `json:"store"`
	Controllers        []controllerStatus `json:"controllers"`
}

type controllerStatus struct {
	Name string `json:"name"`
	gateway.Snapshot
}

func mappingFingerprint(mapping *vss.Table) string {
	if mapping == nil {
		return ""
	}
	return mapping.Fingerprint()
}
