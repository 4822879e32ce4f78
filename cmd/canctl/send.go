// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/sdv-zonal/canbridge/cmd/canctl/cli"
	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/relay"
	"github.com/sdv-zonal/canbridge/lib/signaldb"
)

// frameSpec describes the frame send builds: either a schema message
// with named signal values or a raw identifier and payload.
type frameSpec struct {
	schema   string
	message  string
	signals  []string
	id       string
	extended bool
	data     string
}

// build returns the frame for spec stamped with now, and a label for
// output.
func (s frameSpec) build(database *signaldb.Database, now time.Time) (canframe.Frame, string, error) {
	if s.message != "" {
		if database == nil {
			return canframe.Frame{}, "", errors.New("--message requires --schema")
		}
		if s.id != "" || s.data != "" {
			return canframe.Frame{}, "", errors.New("--message cannot be combined with --id or --data")
		}
		values, err := parseSignalValues(s.signals)
		if err != nil {
			return canframe.Frame{}, "", err
		}
		frame, err := database.Encode(s.message, values, now)
		if err != nil {
			return canframe.Frame{}, "", err
		}
		return frame, s.message, nil
	}

	if len(s.signals) > 0 {
		return canframe.Frame{}, "", errors.New("--signal requires --message")
	}
	if s.id == "" {
		return canframe.Frame{}, "", errors.New("either --message or --id is required")
	}
	id, err := canframe.ParseID(s.id)
	if err != nil {
		return canframe.Frame{}, "", err
	}
	payload, err := hex.DecodeString(strings.ReplaceAll(s.data, " ", ""))
	if err != nil {
		return canframe.Frame{}, "", fmt.Errorf("--data: %w", err)
	}
	frame, err := canframe.New(id, s.extended, now, payload)
	if err != nil {
		return canframe.Frame{}, "", err
	}
	label := ""
	if database != nil {
		if message, ok := database.Message(id, s.extended); ok {
			label = message.Name
		}
	}
	return frame, label, nil
}

// parseSignalValues parses name=value pairs. Booleans are accepted as
// true/false.
func parseSignalValues(pairs []string) (map[string]float64, error) {
	values := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, text, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("--signal %q: want name=value", pair)
		}
		var value float64
		switch strings.ToLower(text) {
		case "true", "on":
			value = 1
		case "false", "off":
			value = 0
		default:
			parsed, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("--signal %s: %w", name, err)
			}
			value = parsed
		}
		if _, duplicate := values[name]; duplicate {
			return nil, fmt.Errorf("--signal %s given twice", name)
		}
		values[name] = value
	}
	return values, nil
}

func sendCommand(out io.Writer) *cli.Command {
	var (
		spec        frameSpec
		address     string
		source      string
		count       int
		interval    time.Duration
		maxAttempts int
	)
	return &cli.Command{
		Name:    "send",
		Summary: "Send frames to a relay's ingress",
		Description: `Send one or more frames to a relay.

With --schema and --message the payload is encoded from named signal
values; unnamed signals are zero. Otherwise --id and --data give the
raw identifier and payload in hex.`,
		Usage: "canctl send [--schema FILE --message NAME --signal name=value...] [--id ID --data HEX] [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("send", pflag.ContinueOnError)
			flagSet.StringVar(&address, "relay", "localhost:8888", "relay ingress address")
			flagSet.StringVar(&spec.schema, "schema", "", "signal schema for --message")
			flagSet.StringVar(&spec.message, "message", "", "message name to encode")
			flagSet.StringArrayVar(&spec.signals, "signal", nil, "signal value as name=value (repeatable)")
			flagSet.StringVar(&spec.id, "id", "", "raw frame identifier, e.g. 0x100")
			flagSet.BoolVar(&spec.extended, "extended", false, "use the 29-bit identifier format")
			flagSet.StringVar(&spec.data, "data", "", "raw payload in hex, e.g. 01C8")
			flagSet.StringVar(&source, "source", "canctl", "producer name reported to the relay")
			flagSet.IntVar(&count, "count", 1, "number of frames to send")
			flagSet.DurationVar(&interval, "interval", 100*time.Millisecond, "time between frames when --count > 1")
			flagSet.IntVar(&maxAttempts, "attempts", relay.DefaultMaxAttempts, "connection attempts per frame")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if count < 1 {
				return errors.New("--count must be at least 1")
			}
			database, err := loadOptionalSchema(spec.schema)
			if err != nil {
				return err
			}

			producer := relay.NewProducer(relay.ProducerConfig{
				Address:     address,
				Source:      source,
				MaxAttempts: maxAttempts,
			})
			defer producer.Close()

			for i := range count {
				if i > 0 {
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(interval):
					}
				}
				frame, label, err := spec.build(database, time.Now())
				if err != nil {
					return err
				}
				if err := producer.Send(ctx, frame); err != nil {
					return err
				}
				if label != "" {
					fmt.Fprintf(out, "sent %s (%s)\n", frame, label)
				} else {
					fmt.Fprintf(out, "sent %s\n", frame)
				}
			}
			return nil
		},
	}
}
