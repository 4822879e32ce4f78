// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaldb

import (
	"errors"
	"strings"
)

// Error kinds returned by this package. Callers classify failures
// with errors.Is. Decode and encode failures are *Error values naming
// the message and signal; schema failures wrap ErrInvalidSchema.
var (
	// ErrInvalidSchema wraps every problem found while loading a
	// schema. Loading fails on the first one.
	ErrInvalidSchema = errors.New("invalid signal schema")

	// ErrUnknownMessage: no definition for the frame identifier, or
	// no message with the requested name.
	ErrUnknownMessage = errors.New("unknown message")

	// ErrTruncatedFrame: the frame's DLC is shorter than the bytes
	// its definition's signals occupy.
	ErrTruncatedFrame = errors.New("truncated frame")

	// ErrUnknownSignal: an encode request names a signal the message
	// does not define.
	ErrUnknownSignal = errors.New("unknown signal")

	// ErrValueOutOfRange: an encode request holds a value whose raw
	// form does not fit the signal's bit width.
	ErrValueOutOfRange = errors.New("value out of range")
)

// Error is a decode or encode failure. Kind is one of the error kinds
// above and is what errors.Is matches.
type Error struct {
	Kind error

	// Message is the message name, or the formatted identifier when
	// the schema has no definition for it.
	Message string

	// Signal is set when one signal caused the failure.
	Signal string

	// Detail describes the failure further. Optional.
	Detail string
}

func (e *Error) Error() string {
	var builder strings.Builder
	builder.WriteString(e.Kind.Error())
	builder.WriteString(": ")
	builder.WriteString(e.Message)
	if e.Signal != "" {
		builder.WriteString(".")
		builder.WriteString(e.Signal)
	}
	if e.Detail != "" {
		builder.WriteString(": ")
		builder.WriteString(e.Detail)
	}
	return builder.String()
}

func (e *Error) Unwrap() error { return e.Kind }
