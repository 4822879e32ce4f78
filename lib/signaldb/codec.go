// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaldb

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/sdv-zonal/canbridge/lib/canframe"
)

// SignalValue is one decoded signal.
type SignalValue struct {
	Name string

	// Raw is the unsigned bit pattern as read from the payload.
	Raw uint64

	Physical float64
	Unit     string

	// Minimum and Maximum are the signal's configured range, both
	// zero when none is configured.
	Minimum float64
	Maximum float64

	// OutOfRange is set when the physical value lies outside the
	// signal's configured minimum and maximum. The value is still
	// reported.
	OutOfRange bool
}

// Decoded holds every signal of one frame, in definition order.
type Decoded struct {
	ID        uint32
	Message   string
	Timestamp time.Time
	Signals   []SignalValue
}

// OutOfRange returns the names of signals flagged out of range.
func (d Decoded) OutOfRange() []string {
	var names []string
	for _, value := range d.Signals {
		if value.OutOfRange {
			names = append(names, value.Name)
		}
	}
	return names
}

// Value looks up a decoded signal by name.
func (d Decoded) Value(name string) (SignalValue, bool) {
	index := slices.IndexFunc(d.Signals, func(value SignalValue) bool { return value.Name == name })
	if index < 0 {
		return SignalValue{}, false
	}
	return d.Signals[index], true
}

// Decode extracts every signal of the frame's message definition.
func (d *Database) Decode(frame canframe.Frame) (Decoded, error) {
	message, ok := d.Message(frame.ID, frame.Extended)
	if !ok {
		return Decoded{}, &Error{Kind: ErrUnknownMessage, Message: canframe.FormatID(frame.ID)}
	}
	if int(frame.DLC) < message.bytesRequired {
		return Decoded{}, &Error{
			Kind:    ErrTruncatedFrame,
			Message: message.Name,
			Detail:  fmt.Sprintf("%s has dlc %d, signals need %d bytes", canframe.FormatID(frame.ID), frame.DLC, message.bytesRequired),
		}
	}

	decoded := Decoded{
		ID:        frame.ID,
		Message:   message.Name,
		Timestamp: frame.Timestamp,
		Signals:   make([]SignalValue, 0, len(message.signals)),
	}
	for _, signal := range message.signals {
		decoded.Signals = append(decoded.Signals, decodeSignal(&frame.Data, signal))
	}
	return decoded, nil
}

func decodeSignal(data *[8]byte, signal Signal) SignalValue {
	raw := extract(data, signal.positions)
	var numeric float64
	if signal.Signed {
		numeric = float64(signExtend(raw, signal.Length))
	} else {
		numeric = float64(raw)
	}
	physical := numeric*signal.Scale + signal.Offset
	return SignalValue{
		Name:       signal.Name,
		Raw:        raw,
		Physical:   physical,
		Unit:       signal.Unit,
		Minimum:    signal.Minimum,
		Maximum:    signal.Maximum,
		OutOfRange: !signal.InRange(physical),
	}
}

// Encode packs physical values into a frame of the named message. The
// frame's DLC is the message length. Signals absent from values encode
// as raw zero.
func (d *Database) Encode(messageName string, values map[string]float64, timestamp time.Time) (canframe.Frame, error) {
	message, ok := d.MessageByName(messageName)
	if !ok {
		return canframe.Frame{}, &Error{Kind: ErrUnknownMessage, Message: messageName}
	}
	return encodeMessage(message, values, timestamp)
}

// EncodeByID is Encode addressed by identifier.
func (d *Database) EncodeByID(id uint32, extended bool, values map[string]float64, timestamp time.Time) (canframe.Frame, error) {
	message, ok := d.Message(id, extended)
	if !ok {
		return canframe.Frame{}, &Error{Kind: ErrUnknownMessage, Message: canframe.FormatID(id)}
	}
	return encodeMessage(message, values, timestamp)
}

func encodeMessage(message Message, values map[string]float64, timestamp time.Time) (canframe.Frame, error) {
	for name := range values {
		if _, ok := message.Signal(name); !ok {
			return canframe.Frame{}, &Error{Kind: ErrUnknownSignal, Message: message.Name, Signal: name}
		}
	}

	var data [8]byte
	for _, signal := range message.signals {
		physical, ok := values[signal.Name]
		if !ok {
			continue
		}
		raw, err := rawValue(signal, physical)
		if err != nil {
			return canframe.Frame{}, &Error{Kind: ErrValueOutOfRange, Message: message.Name, Signal: signal.Name, Detail: err.Error()}
		}
		insert(&data, signal.positions, raw)
	}
	return canframe.New(message.ID, message.Extended, timestamp, data[:message.Length])
}

// rawValue converts a physical value to the raw bit pattern, rounding
// to the nearest integer.
func rawValue(signal Signal, physical float64) (uint64, error) {
	scaled := math.Round((physical - signal.Offset) / signal.Scale)
	if math.IsNaN(scaled) || math.IsInf(scaled, 0) {
		return 0, fmt.Errorf("value %v is not finite after scaling", physical)
	}

	if signal.Signed {
		lowest := -math.Ldexp(1, signal.Length-1)
		highest := math.Ldexp(1, signal.Length-1)
		if scaled < lowest || scaled >= highest {
			return 0, fmt.Errorf("raw %v outside signed %d-bit range", scaled, signal.Length)
		}
		raw := uint64(int64(scaled))
		if signal.Length < 64 {
			raw &= 1<<uint(signal.Length) - 1
		}
		return raw, nil
	}

	if scaled < 0 || scaled >= math.Ldexp(1, signal.Length) {
		return 0, fmt.Errorf("raw %v outside unsigned %d-bit range", scaled, signal.Length)
	}
	return uint64(scaled), nil
}
