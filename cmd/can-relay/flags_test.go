// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/sdv-zonal/canbridge/lib/config"
)

func parseFlags(t *testing.T, args ...string) (*pflag.FlagSet, *relayFlags) {
	t.Helper()
	flagSet := pflag.NewFlagSet("can-relay", pflag.ContinueOnError)
	flags := registerFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	return flagSet, flags
}

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canbridge.yaml")
	content := "relay:\n  port: 9000\n  publish_port: 9001\n  can_interface: vcan0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	flagSet, flags := parseFlags(t,
		"--config", path,
		"--publish-port", "6000",
		"--heartbeat-interval", "2s",
		"--log-file", "/tmp/relay.log",
	)
	cfg, err := config.LoadPath(flags.configPath)
	if err != nil {
		t.Fatalf("LoadPath: %v", err)
	}
	flags.apply(flagSet, cfg)

	if cfg.Relay.Port != 9000 {
		t.Errorf("port = %d, want 9000 from the file", cfg.Relay.Port)
	}
	if cfg.Relay.PublishPort != 6000 {
		t.Errorf("publish port = %d, want 6000 from the flag", cfg.Relay.PublishPort)
	}
	if cfg.Relay.CANInterface != "vcan0" {
		t.Errorf("can interface = %q, want vcan0 from the file", cfg.Relay.CANInterface)
	}
	if cfg.Relay.HeartbeatInterval != 2*time.Second {
		t.Errorf("heartbeat = %v, want 2s", cfg.Relay.HeartbeatInterval)
	}
	if cfg.Logging.File != "/tmp/relay.log" {
		t.Errorf("log file = %q", cfg.Logging.File)
	}
	if err := cfg.ValidateRelay(); err != nil {
		t.Errorf("ValidateRelay: %v", err)
	}
}

func TestUnsetFlagsKeepDefaults(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, "")
	flagSet, flags := parseFlags(t)
	cfg, err := config.LoadPath(flags.configPath)
	if err != nil {
		t.Fatalf("LoadPath: %v", err)
	}
	flags.apply(flagSet, cfg)
	if !reflect.DeepEqual(cfg, config.Default()) {
		t.Errorf("configuration changed without flags:\n%+v", cfg)
	}
}

func TestBindListenersReportsTakenPort(t *testing.T) {
	cfg := config.Default().Relay
	cfg.Host, cfg.PublishHost = "127.0.0.1", "127.0.0.1"
	cfg.Port, cfg.PublishPort = 0, 0

	first, err := bindListeners(cfg)
	if err != nil {
		t.Fatalf("bindListeners: %v", err)
	}
	defer first.close()

	cfg.Port = first.ingress.Addr().(*net.TCPAddr).Port
	if _, err := bindListeners(cfg); err == nil {
		t.Fatal("binding a taken ingress port succeeded")
	}
}
