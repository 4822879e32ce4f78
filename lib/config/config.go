// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is not
// given.
const EnvironmentVariable = "CANBRIDGE_CONFIG"

// Config is the deployment configuration shared by can-relay and
// can-gateway. Each binary reads its own section plus Logging.
type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	Gateway GatewayConfig `yaml:"gateway"`
	Logging LoggingConfig `yaml:"logging"`
}

// RelayConfig configures can-relay.
type RelayConfig struct {
	// Host and Port are the producer ingress address.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PublishHost and PublishPort are the subscriber stream address.
	PublishHost string `yaml:"publish_host"`
	PublishPort int    `yaml:"publish_port"`

	// CANInterface is a SocketCAN interface name, "memory", or "none".
	CANInterface string `yaml:"can_interface"`

	// BusListen republishes frames other nodes put on the bus.
	BusListen bool `yaml:"bus_listen"`

	// BusQueue is the bus writer queue capacity.
	BusQueue int `yaml:"bus_queue"`

	// SubscriberBuffer is each subscriber's queue capacity.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// MaxRecordSize bounds one ingress wire record in bytes.
	MaxRecordSize int `yaml:"max_record_size"`

	// IdleTimeout closes silent producer connections. Zero disables.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// StatsInterval is the period of the statistics log line. Zero
	// logs only the final statistics.
	StatsInterval time.Duration `yaml:"stats_interval"`

	// Schema optionally names identifiers in statistics.
	Schema string `yaml:"schema"`

	StatusSocket   string `yaml:"status_socket"`
	MetricsAddress string `yaml:"metrics_address"`
}

// GatewayConfig configures can-gateway.
type GatewayConfig struct {
	// Relay is the relay publisher address (host:port).
	Relay string `yaml:"relay"`

	Schema   string `yaml:"schema"`
	Mapping  string `yaml:"mapping"`
	Database string `yaml:"database"`

	// Subscriptions run one controller each, sharing the store. Empty
	// means a single controller for every identifier.
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`

	InitialBackoff     time.Duration `yaml:"initial_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	MaxPersistFailures int           `yaml:"max_persist_failures"`

	// PoolSize is the number of SQLite connections.
	PoolSize int `yaml:"pool_size"`

	StatusSocket   string `yaml:"status_socket"`
	MetricsAddress string `yaml:"metrics_address"`
}

// SubscriptionConfig is one gateway controller.
type SubscriptionConfig struct {
	Name string `yaml:"name"`

	// IDs restricts the subscription, written like mapping keys
	// ("0x100"). Empty means all identifiers.
	IDs []string `yaml:"ids"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is auto, text or json. Auto picks text on a terminal.
	Format string `yaml:"format"`

	// File additionally writes JSON logs to this path.
	File string `yaml:"file"`
}

// Default returns the configuration used for every field the file and
// the flags leave unset.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Host:              "0.0.0.0",
			Port:              8888,
			PublishHost:       "0.0.0.0",
			PublishPort:       5555,
			CANInterface:      "none",
			BusQueue:          256,
			SubscriberBuffer:  1024,
			MaxRecordSize:     4096,
			HeartbeatInterval: 10 * time.Second,
			StatsInterval:     10 * time.Second,
		},
		Gateway: GatewayConfig{
			Relay:              "localhost:5555",
			Schema:             "lights.yaml",
			Database:           "canbridge.db",
			InitialBackoff:     500 * time.Millisecond,
			MaxBackoff:         30 * time.Second,
			MaxPersistFailures: 5,
			PoolSize:           4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads the file named by CANBRIDGE_CONFIG, or returns the
// defaults when it is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadPath reads path when it is set and falls back to Load
// otherwise. Binaries pass their --config flag here.
func LoadPath(path string) (*Config, error) {
	if path == "" {
		return Load()
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults and expands ${VAR} and
// ${VAR:-default} in path-valued fields. Unknown keys are an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	for _, field := range []*string{
		&c.Relay.Schema,
		&c.Relay.StatusSocket,
		&c.Gateway.Schema,
		&c.Gateway.Mapping,
		&c.Gateway.Database,
		&c.Gateway.StatusSocket,
		&c.Logging.File,
	} {
		*field = expandVars(*field)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"auto", "text", "json"}
)

// ValidateRelay checks the relay and logging sections.
func (c *Config) ValidateRelay() error {
	var errs []error
	relay := c.Relay

	errs = append(errs, validatePort("relay.port", relay.Port))
	errs = append(errs, validatePort("relay.publish_port", relay.PublishPort))
	if relay.Host == relay.PublishHost && relay.Port == relay.PublishPort && relay.Port != 0 {
		errs = append(errs, fmt.Errorf("relay.port and relay.publish_port must differ"))
	}
	if relay.CANInterface == "" {
		errs = append(errs, fmt.Errorf(`relay.can_interface is required (use "none" to disable the bus)`))
	}
	if relay.BusListen && (relay.CANInterface == "none" || relay.CANInterface == "") {
		errs = append(errs, fmt.Errorf("relay.bus_listen requires a CAN interface"))
	}
	if relay.BusQueue <= 0 {
		errs = append(errs, fmt.Errorf("relay.bus_queue must be positive"))
	}
	if relay.SubscriberBuffer <= 0 {
		errs = append(errs, fmt.Errorf("relay.subscriber_buffer must be positive"))
	}
	if relay.MaxRecordSize < 64 {
		errs = append(errs, fmt.Errorf("relay.max_record_size must be at least 64 bytes"))
	}
	if relay.IdleTimeout < 0 || relay.StatsInterval < 0 {
		errs = append(errs, fmt.Errorf("relay.idle_timeout and relay.stats_interval must not be negative"))
	}
	if relay.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("relay.heartbeat_interval must be positive"))
	}

	errs = append(errs, c.Logging.validate())
	return errors.Join(errs...)
}

// ValidateGateway checks the gateway and logging sections.
func (c *Config) ValidateGateway() error {
	var errs []error
	gateway := c.Gateway

	if gateway.Relay == "" {
		errs = append(errs, fmt.Errorf("gateway.relay is required"))
	}
	if gateway.Schema == "" {
		errs = append(errs, fmt.Errorf("gateway.schema is required"))
	}
	if gateway.Database == "" {
		errs = append(errs, fmt.Errorf("gateway.database is required"))
	}
	if gateway.InitialBackoff <= 0 || gateway.MaxBackoff < gateway.InitialBackoff {
		errs = append(errs, fmt.Errorf("gateway.initial_backoff must be positive and not above gateway.max_backoff"))
	}
	if gateway.MaxPersistFailures <= 0 {
		errs = append(errs, fmt.Errorf("gateway.max_persist_failures must be positive"))
	}
	if gateway.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("gateway.pool_size must be positive"))
	}

	names := make(map[string]bool)
	for i, subscription := range gateway.Subscriptions {
		if subscription.Name == "" {
			errs = append(errs, fmt.Errorf("gateway.subscriptions[%d].name is required", i))
		} else if names[subscription.Name] {
			errs = append(errs, fmt.Errorf("gateway.subscriptions: duplicate name %q", subscription.Name))
		}
		names[subscription.Name] = true
	}

	errs = append(errs, c.Logging.validate())
	return errors.Join(errs...)
}

func (l LoggingConfig) validate() error {
	var errs []error
	if !slices.Contains(logLevels, l.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of: %v", logLevels))
	}
	if !slices.Contains(logFormats, l.Format) {
		errs = append(errs, fmt.Errorf("logging.format must be one of: %v", logFormats))
	}
	return errors.Join(errs...)
}

func validatePort(name string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s must be between 0 and 65535", name)
	}
	return nil
}
