// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/pflag"

	"github.com/sdv-zonal/canbridge/lib/config"
)

// gatewayFlags holds the command line. Values only override the
// configuration file when the flag was given explicitly.
type gatewayFlags struct {
	configPath  string
	verbose     bool
	logFile     string
	showVersion bool

	gateway config.GatewayConfig
}

func registerFlags(flagSet *pflag.FlagSet) *gatewayFlags {
	defaults := config.Default().Gateway
	flags := &gatewayFlags{}

	flagSet.StringVar(&flags.configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")
	flagSet.StringVar(&flags.logFile, "log-file", "", "also write JSON log records to this file")
	flagSet.BoolVar(&flags.showVersion, "version", false, "print version information and exit")

	gateway := &flags.gateway
	flagSet.StringVar(&gateway.Relay, "relay", defaults.Relay, "relay publisher address (host:port)")
	flagSet.StringVar(&gateway.Schema, "schema", defaults.Schema, "signal schema file")
	flagSet.StringVar(&gateway.Mapping, "mapping", "", "VSS mapping file, .yaml or .jsonc (empty stores raw frames only)")
	flagSet.StringVar(&gateway.Database, "database", defaults.Database, "SQLite store path")
	flagSet.IntVar(&gateway.PoolSize, "pool-size", defaults.PoolSize, "SQLite connections")
	flagSet.DurationVar(&gateway.InitialBackoff, "initial-backoff", defaults.InitialBackoff, "first wait after a failed subscribe")
	flagSet.DurationVar(&gateway.MaxBackoff, "max-backoff", defaults.MaxBackoff, "longest wait between subscribe attempts")
	flagSet.IntVar(&gateway.MaxPersistFailures, "max-persist-failures", defaults.MaxPersistFailures, "consecutive store failures that stop the gateway")
	flagSet.StringVar(&gateway.StatusSocket, "status-socket", "", "unix socket answering status requests")
	flagSet.StringVar(&gateway.MetricsAddress, "metrics-address", "", "address serving /metrics and /health")
	return flags
}

// apply copies every explicitly set flag over cfg.
func (f *gatewayFlags) apply(flagSet *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, apply func()) {
		if flagSet.Changed(name) {
			apply()
		}
	}
	gateway, target := f.gateway, &cfg.Gateway
	set("relay", func() { target.Relay = gateway.Relay })
	set("schema", func() { target.Schema = gateway.Schema })
	set("mapping", func() { target.Mapping = gateway.Mapping })
	set("database", func() { target.Database = gateway.Database })
	set("pool-size", func() { target.PoolSize = gateway.PoolSize })
	set("initial-backoff", func() { target.InitialBackoff = gateway.InitialBackoff })
	set("max-backoff", func() { target.MaxBackoff = gateway.MaxBackoff })
	set("max-persist-failures", func() { target.MaxPersistFailures = gateway.MaxPersistFailures })
	set("status-socket", func() { target.StatusSocket = gateway.StatusSocket })
	set("metrics-address", func() { target.MetricsAddress = gateway.MetricsAddress })
	set("log-file", func() { cfg.Logging.File = f.logFile })
}
