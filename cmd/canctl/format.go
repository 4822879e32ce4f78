// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/signaldb"
	"github.com/sdv-zonal/canbridge/lib/store"
	"github.com/sdv-zonal/canbridge/lib/vss"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// frameRow is the JSON shape of a frame in command output.
type frameRow struct {
	Seq       int64     `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
	Extended  bool      `json:"extended,omitempty"`
	DLC       uint8     `json:"dlc"`
	Data      string    `json:"data"`
	Message   string    `json:"message,omitempty"`
	Source    string    `json:"source,omitempty"`
}

func newFrameRow(seq int64, frame canframe.Frame, message string) frameRow {
	return frameRow{
		Seq:       seq,
		Timestamp: frame.Timestamp,
		ID:        canframe.FormatID(frame.ID),
		Extended:  frame.Extended,
		DLC:       frame.DLC,
		Data:      hex.EncodeToString(frame.Payload()),
		Message:   message,
		Source:    frame.Source,
	}
}

// sampleRow is the JSON shape of a sample in command output.
type sampleRow struct {
	Seq       int64     `json:"seq,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Type      string    `json:"type"`
	Value     vss.Value `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	ID        string    `json:"id"`
	Signal    string    `json:"signal"`
}

func newSampleRow(record store.SampleRecord) sampleRow {
	sample := record.Sample
	return sampleRow{
		Seq:       record.Seq,
		Timestamp: sample.Timestamp,
		Path:      sample.Path,
		Type:      string(sample.Value.Type),
		Value:     sample.Value,
		Unit:      sample.Unit,
		ID:        canframe.FormatID(sample.MessageID),
		Signal:    sample.Signal,
	}
}

// signalRow is the JSON shape of a stored signal value.
type signalRow struct {
	Seq        int64     `json:"seq"`
	FrameSeq   int64     `json:"frame_seq"`
	Timestamp  time.Time `json:"timestamp"`
	ID         string    `json:"id"`
	Message    string    `json:"message"`
	Name       string    `json:"name"`
	Raw        uint64    `json:"raw"`
	Physical   float64   `json:"physical"`
	Unit       string    `json:"unit,omitempty"`
	Minimum    float64   `json:"minimum,omitempty"`
	Maximum    float64   `json:"maximum,omitempty"`
	OutOfRange bool      `json:"out_of_range,omitempty"`
}

func newSignalRow(record store.SignalRecord) signalRow {
	value := record.Value
	return signalRow{
		Seq:        record.Seq,
		FrameSeq:   record.FrameSeq,
		Timestamp:  record.Timestamp,
		ID:         canframe.FormatID(record.MessageID),
		Message:    record.Message,
		Name:       value.Name,
		Raw:        value.Raw,
		Physical:   value.Physical,
		Unit:       value.Unit,
		Minimum:    value.Minimum,
		Maximum:    value.Maximum,
		OutOfRange: value.OutOfRange,
	}
}

// formatSignals renders decoded signals as "name=value unit" pairs,
// marking out-of-range values with "!".
func formatSignals(decoded signaldb.Decoded) string {
	parts := make([]string, 0, len(decoded.Signals))
	for _, value := range decoded.Signals {
		text := value.Name + "=" + strconv.FormatFloat(value.Physical, 'g', -1, 64)
		if value.Unit != "" {
			text += value.Unit
		}
		if value.OutOfRange {
			text += "!"
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

// describeFrame returns the message name and decoded signals for
// frame, or an empty string when database is nil or cannot decode it.
func describeFrame(database *signaldb.Database, frame canframe.Frame) string {
	if database == nil {
		return ""
	}
	decoded, err := database.Decode(frame)
	if err != nil {
		return err.Error()
	}
	return decoded.Message + " " + formatSignals(decoded)
}

// loadOptionalSchema loads path, or returns nil when path is empty.
func loadOptionalSchema(path string) (*signaldb.Database, error) {
	if path == "" {
		return nil, nil
	}
	database, err := signaldb.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}
	return database, nil
}

// parseTimeBound accepts an RFC 3339 timestamp or a duration meaning
// that long before now. Empty is the zero time.
func parseTimeBound(text string, now time.Time) (time.Time, error) {
	if text == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return parsed, nil
	}
	duration, err := time.ParseDuration(text)
	if err != nil || duration < 0 {
		return time.Time{}, fmt.Errorf("time %q is neither RFC 3339 nor a positive duration", text)
	}
	return now.Add(-duration), nil
}

// openExistingStore opens the store at path without creating one.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no store at %s: %w", path, err)
	}
	return store.Open(store.Config{Path: path, PoolSize: 2})
}
