// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Options selects the process logger.
type Options struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string

	// Verbose forces debug level regardless of Level.
	Verbose bool

	// Format is auto, text or json. Auto picks text when Output is a
	// terminal and JSON otherwise.
	Format string

	// File, when set, also receives every record at debug level as
	// JSON. The file is appended to.
	File string

	// Output is the console destination. Nil means stderr.
	Output io.Writer
}

// New builds the logger described by options. The returned close
// function releases the log file, if any.
func New(options Options) (*slog.Logger, func() error, error) {
	output := options.Output
	if output == nil {
		output = os.Stderr
	}

	level, err := ParseLevel(options.Level)
	if err != nil {
		return nil, nil, err
	}
	if options.Verbose {
		level = slog.LevelDebug
	}
	handlerOptions := &slog.HandlerOptions{Level: level}

	var console slog.Handler
	switch options.Format {
	case "", "auto":
		if isTerminal(output) {
			console = slog.NewTextHandler(output, handlerOptions)
		} else {
			console = slog.NewJSONHandler(output, handlerOptions)
		}
	case "text":
		console = slog.NewTextHandler(output, handlerOptions)
	case "json":
		console = slog.NewJSONHandler(output, handlerOptions)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", options.Format)
	}

	if options.File == "" {
		return slog.New(console), func() error { return nil }, nil
	}

	file, err := os.OpenFile(options.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(fanoutHandler{console, fileHandler}), file.Close, nil
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// fanoutHandler sends each record to every handler enabled for its
// level.
type fanoutHandler []slog.Handler

func (handlers fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (handlers fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (handlers fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithAttrs(attrs)
	}
	return derived
}

func (handlers fanoutHandler) WithGroup(name string) slog.Handler {
	derived := make(fanoutHandler, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithGroup(name)
	}
	return derived
}
