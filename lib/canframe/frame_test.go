// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package canframe

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/sdv-zonal/canbridge/lib/codec"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name     string
		id       uint32
		extended bool
		payload  []byte
		wantErr  bool
	}{
		{"empty payload", 0x100, false, nil, false},
		{"full payload", 0x7FF, false, make([]byte, 8), false},
		{"standard id too large", 0x800, false, nil, true},
		{"extended id allowed", 0x800, true, nil, false},
		{"extended id too large", 0x20000000, true, nil, true},
		{"payload too long", 0x100, false, make([]byte, 9), true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := New(test.id, test.extended, testEpoch, test.payload)
			if (err != nil) != test.wantErr {
				t.Fatalf("New error = %v, wantErr %v", err, test.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("error %v does not wrap ErrInvalidFrame", err)
			}
		})
	}
}

func TestPayloadIsACopy(t *testing.T) {
	frame, err := New(0x100, false, testEpoch, []byte{0x01, 0xC8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload := frame.Payload()
	payload[0] = 0xFF
	if frame.Data[0] != 0x01 {
		t.Error("mutating Payload() changed the frame")
	}
	if !bytes.Equal(frame.Payload(), []byte{0x01, 0xC8}) {
		t.Errorf("Payload = %x", frame.Payload())
	}
}

func TestString(t *testing.T) {
	frame, _ := New(0x100, false, testEpoch, []byte{0x01, 0xC8})
	if got := frame.String(); got != "100#01C8" {
		t.Errorf("String = %q", got)
	}
	extended, _ := New(0x18FEF100, true, testEpoch, []byte{0xAB})
	if got := extended.String(); got != "18FEF100#AB" {
		t.Errorf("String = %q", got)
	}
}

func TestParseID(t *testing.T) {
	for text, want := range map[string]uint32{"0x100": 0x100, "256": 256, " 0x7e8 ": 0x7E8} {
		got, err := ParseID(text)
		if err != nil {
			t.Fatalf("ParseID(%q): %v", text, err)
		}
		if got != want {
			t.Errorf("ParseID(%q) = %#x, want %#x", text, got, want)
		}
	}
	for _, text := range []string{"", "lights", "0x20000000"} {
		if _, err := ParseID(text); err == nil {
			t.Errorf("ParseID(%q) succeeded", text)
		}
	}
	if FormatID(0x100) != "0x100" {
		t.Errorf("FormatID = %q", FormatID(0x100))
	}
}

func TestWireFrameRoundTrip(t *testing.T) {
	timestamp := testEpoch.Add(1234567 * time.Microsecond)
	frame, err := New(0x101, false, timestamp, []byte{0x03, 0x00, 0x10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, err := codec.Marshal(ToWire(frame, "fmu"))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var wire WireFrame
	if err := codec.Unmarshal(data, &wire); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if wire.Source != "fmu" {
		t.Errorf("Source = %q", wire.Source)
	}

	decoded, err := wire.Frame(time.Time{})
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if decoded.ID != frame.ID || decoded.DLC != frame.DLC || decoded.Data != frame.Data {
		t.Errorf("decoded %v, want %v", decoded, frame)
	}
	if !decoded.Timestamp.Equal(timestamp) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, timestamp)
	}
	if decoded.Source != "fmu" {
		t.Errorf("decoded Source = %q, want fmu", decoded.Source)
	}

	// Forwarding keeps the producer's name unless a new one is given.
	if forwarded := ToWire(decoded, ""); forwarded.Source != "fmu" {
		t.Errorf("forwarded Source = %q, want fmu", forwarded.Source)
	}
	if renamed := ToWire(decoded, "relay"); renamed.Source != "relay" {
		t.Errorf("renamed Source = %q, want relay", renamed.Source)
	}
}

func TestWireFrameValidation(t *testing.T) {
	received := testEpoch
	tests := []struct {
		name string
		wire WireFrame
	}{
		{"dlc above eight", WireFrame{ID: 0x100, DLC: 9, Data: make([]byte, 9)}},
		{"dlc disagrees with data", WireFrame{ID: 0x100, DLC: 2, Data: []byte{1}}},
		{"standard id out of range", WireFrame{ID: 0x800, DLC: 0, Data: []byte{}}},
		{"negative timestamp", WireFrame{ID: 0x100, Timestamp: -1, DLC: 0}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := test.wire.Frame(received); !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("Frame error = %v, want ErrInvalidFrame", err)
			}
		})
	}
}

func TestWireFrameMissingTimestampUsesReceiveTime(t *testing.T) {
	frame, err := WireFrame{ID: 0x200, DLC: 0}.Frame(testEpoch)
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if !frame.Timestamp.Equal(testEpoch) {
		t.Errorf("Timestamp = %v, want receive time %v", frame.Timestamp, testEpoch)
	}
}
