// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/pflag"

	"github.com/sdv-zonal/canbridge/lib/config"
)

// relayFlags holds the command line. Values only override the
// configuration file when the flag was given explicitly.
type relayFlags struct {
	configPath  string
	verbose     bool
	logFile     string
	showVersion bool

	relay config.RelayConfig
}

func registerFlags(flagSet *pflag.FlagSet) *relayFlags {
	defaults := config.Default().Relay
	flags := &relayFlags{}

	flagSet.StringVar(&flags.configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")
	flagSet.StringVar(&flags.logFile, "log-file", "", "also write JSON log records to this file")
	flagSet.BoolVar(&flags.showVersion, "version", false, "print version information and exit")

	relay := &flags.relay
	flagSet.StringVar(&relay.Host, "host", defaults.Host, "ingress listen host")
	flagSet.IntVar(&relay.Port, "port", defaults.Port, "ingress listen port")
	flagSet.StringVar(&relay.PublishHost, "publish-host", defaults.PublishHost, "subscriber listen host")
	flagSet.IntVar(&relay.PublishPort, "publish-port", defaults.PublishPort, "subscriber listen port")
	flagSet.StringVar(&relay.CANInterface, "can-interface", defaults.CANInterface, `local CAN interface ("none", "memory", or e.g. "vcan0")`)
	flagSet.BoolVar(&relay.BusListen, "bus-listen", false, "republish frames other nodes send on the CAN interface")
	flagSet.IntVar(&relay.BusQueue, "bus-queue", defaults.BusQueue, "frames queued for the CAN interface before dropping")
	flagSet.IntVar(&relay.SubscriberBuffer, "subscriber-buffer", defaults.SubscriberBuffer, "frames buffered per subscriber before dropping")
	flagSet.IntVar(&relay.MaxRecordSize, "max-record-size", defaults.MaxRecordSize, "largest accepted ingress record in bytes")
	flagSet.DurationVar(&relay.IdleTimeout, "idle-timeout", 0, "close producers silent for this long (0 disables)")
	flagSet.DurationVar(&relay.HeartbeatInterval, "heartbeat-interval", defaults.HeartbeatInterval, "heartbeat interval on idle subscriber streams")
	flagSet.DurationVar(&relay.StatsInterval, "stats-interval", defaults.StatsInterval, "statistics log interval (0 logs only at exit)")
	flagSet.StringVar(&relay.Schema, "schema", "", "signal schema used to name identifiers in statistics")
	flagSet.StringVar(&relay.StatusSocket, "status-socket", "", "unix socket answering status requests")
	flagSet.StringVar(&relay.MetricsAddress, "metrics-address", "", "address serving /metrics and /health")
	return flags
}

// apply copies every explicitly set flag over cfg.
func (f *relayFlags) apply(flagSet *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, apply func()) {
		if flagSet.Changed(name) {
			apply()
		}
	}
	relay, target := f.relay, &cfg.Relay
	set("host", func() { target.Host = relay.Host })
	set("port", func() { target.Port = relay.Port })
	set("publish-host", func() { target.PublishHost = relay.PublishHost })
	set("publish-port", func() { target.PublishPort = relay.PublishPort })
	set("can-interface", func() { target.CANInterface = relay.CANInterface })
	set("bus-listen", func() { target.BusListen = relay.BusListen })
	set("bus-queue", func() { target.BusQueue = relay.BusQueue })
	set("subscriber-buffer", func() { target.SubscriberBuffer = relay.SubscriberBuffer })
	set("max-record-size", func() { target.MaxRecordSize = relay.MaxRecordSize })
	set("idle-timeout", func() { target.IdleTimeout = relay.IdleTimeout })
	set("heartbeat-interval", func() { target.HeartbeatInterval = relay.HeartbeatInterval })
	set("stats-interval", func() { target.StatsInterval = relay.StatsInterval })
	set("schema", func() { target.Schema = relay.Schema })
	set("status-socket", func() { target.StatusSocket = relay.StatusSocket })
	set("metrics-address", func() { target.MetricsAddress = relay.MetricsAddress })
	set("log-file", func() { cfg.Logging.File = f.logFile })
}
