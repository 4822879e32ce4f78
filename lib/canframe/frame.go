// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package canframe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Identifier and payload limits of classic CAN.
const (
	MaxStandardID uint32 = 0x7FF
	MaxExtendedID uint32 = 0x1FFFFFFF
	MaxDLC               = 8
)

// ErrInvalidFrame is wrapped by every validation failure in this
// package.
var ErrInvalidFrame = errors.New("invalid frame")

// Frame is one observed bus frame. It is a value type: the payload is
// a fixed array, so copies never alias. Bytes at and beyond DLC are
// always zero for frames built by New.
type Frame struct {
	ID        uint32
	Extended  bool
	Timestamp time.Time
	DLC       uint8
	Data      [MaxDLC]byte

	// Source names the producer that sent the frame, empty when
	// unknown. It travels with the frame through the relay and is
	// stored with the raw record.
	Source string
}

// New builds a validated frame from a payload slice. The DLC is
// len(payload).
func New(id uint32, extended bool, timestamp time.Time, payload []byte) (Frame, error) {
	if len(payload) > MaxDLC {
		return Frame{}, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrInvalidFrame, len(payload), MaxDLC)
	}
	frame := Frame{
		ID:        id,
		Extended:  extended,
		Timestamp: timestamp,
		DLC:       uint8(len(payload)),
	}
	copy(frame.Data[:], payload)
	if err := frame.Validate(); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

// Validate checks the identifier range for the frame format and the
// DLC bound.
func (f Frame) Validate() error {
	if f.DLC > MaxDLC {
		return fmt.Errorf("%w: dlc %d exceeds %d", ErrInvalidFrame, f.DLC, MaxDLC)
	}
	limit := MaxStandardID
	if f.Extended {
		limit = MaxExtendedID
	}
	if f.ID > limit {
		return fmt.Errorf("%w: id %s exceeds %s", ErrInvalidFrame, FormatID(f.ID), FormatID(limit))
	}
	return nil
}

// Payload returns a copy of the first DLC bytes.
func (f Frame) Payload() []byte {
	payload := make([]byte, f.DLC)
	copy(payload, f.Data[:f.DLC])
	return payload
}

// String renders the frame in candump style: "100#01C8".
func (f Frame) String() string {
	var builder strings.Builder
	if f.Extended {
		fmt.Fprintf(&builder, "%08X#", f.ID)
	} else {
		fmt.Fprintf(&builder, "%03X#", f.ID)
	}
	for _, b := range f.Data[:f.DLC] {
		fmt.Fprintf(&builder, "%02X", b)
	}
	return builder.String()
}

// FormatID renders an identifier the way mapping files and persisted
// records spell it: lower-case hex with a 0x prefix.
func FormatID(id uint32) string {
	return fmt.Sprintf("0x%x", id)
}

// ParseID accepts "0x100", "256", or "0o400" style identifiers.
func ParseID(text string) (uint32, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(text), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing frame id %q: %w", text, err)
	}
	if uint32(value) > MaxExtendedID {
		return 0, fmt.Errorf("%w: id %q exceeds %s", ErrInvalidFrame, text, FormatID(MaxExtendedID))
	}
	return uint32(value), nil
}
