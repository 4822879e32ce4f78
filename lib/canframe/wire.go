// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package canframe

import (
	"fmt"
	"math"
	"time"
)

// WireFrame is the CBOR record exchanged between producers, the relay,
// and subscribers. Each record is one self-delimiting CBOR map; fields
// a reader does not know are ignored.
//
// Timestamp is seconds since the Unix epoch as a float, matching the
// simulation bridge. Zero means "unknown": the relay substitutes its
// own receive time.
type WireFrame struct {
	ID        uint32  `cbor:"id"`
	Extended  bool    `cbor:"extended,omitempty"`
	Timestamp float64 `cbor:"timestamp,omitempty"`
	DLC       uint8   `cbor:"dlc"`
	Data      []byte  `cbor:"data"`

	// Source names the producer. The relay forwards it to
	// subscribers unchanged.
	Source string `cbor:"source,omitempty"`

	// SimTime is the simulation time in seconds when the frame was
	// produced. Carried through for inspection; not used for ordering.
	SimTime float64 `cbor:"sim_time,omitempty"`
}

// Frame validates the record and converts it. A data length that
// disagrees with DLC is a validation failure, as is any identifier or
// DLC outside the CAN limits. receivedAt is used when the record has
// no timestamp.
func (w WireFrame) Frame(receivedAt time.Time) (Frame, error) {
	if int(w.DLC) != len(w.Data) {
		return Frame{}, fmt.Errorf("%w: dlc %d but %d data bytes", ErrInvalidFrame, w.DLC, len(w.Data))
	}
	if math.IsNaN(w.Timestamp) || math.IsInf(w.Timestamp, 0) || w.Timestamp < 0 {
		return Frame{}, fmt.Errorf("%w: timestamp %v", ErrInvalidFrame, w.Timestamp)
	}
	timestamp := receivedAt
	if w.Timestamp > 0 {
		timestamp = FromSeconds(w.Timestamp)
	}
	frame, err := New(w.ID, w.Extended, timestamp, w.Data)
	if err != nil {
		return Frame{}, err
	}
	frame.Source = w.Source
	return frame, nil
}

// ToWire converts a frame to its wire record. A non-empty source
// replaces the frame's own.
func ToWire(frame Frame, source string) WireFrame {
	if source == "" {
		source = frame.Source
	}
	return WireFrame{
		ID:        frame.ID,
		Extended:  frame.Extended,
		Timestamp: Seconds(frame.Timestamp),
		DLC:       frame.DLC,
		Data:      frame.Payload(),
		Source:    source,
	}
}

// Seconds converts t to float seconds since the epoch. The zero time
// maps to 0.
func Seconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMicro()) / 1e6
}

// FromSeconds converts float seconds to a time, rounded to the
// microsecond. A float64 cannot carry nanoseconds at current epoch
// magnitudes, so microseconds is the precision the wire guarantees.
func FromSeconds(seconds float64) time.Time {
	whole := math.Floor(seconds)
	micros := math.Round((seconds - whole) * 1e6)
	return time.Unix(int64(whole), int64(micros)*int64(time.Microsecond)).UTC()
}
