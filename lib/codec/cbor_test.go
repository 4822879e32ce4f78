// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

type sampleRecord struct {
	ID   uint32 `cbor:"id"`
	DLC  uint8  `cbor:"dlc"`
	Data []byte `cbor:"data"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleRecord{ID: 0x100, DLC: 2, Data: []byte{0x01, 0xC8}}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID != original.ID || decoded.DLC != original.DLC || !bytes.Equal(decoded.Data, original.Data) {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"zeta": 1, "alpha": 2, "mid": 3}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("map encoding is not deterministic")
		}
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"id": 0x101, "dlc": 0, "source": "fmu"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal with extra field: %v", err)
	}
	if decoded.ID != 0x101 {
		t.Errorf("ID = %#x, want 0x101", decoded.ID)
	}
}

func TestAnyTargetDecodesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": "value"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Errorf("nested type = %T, want map[string]any", outer["outer"])
	}
}

func TestStreamSequence(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for i := range 3 {
		if err := encoder.Encode(sampleRecord{ID: uint32(0x100 + i)}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewStreamDecoder(&buffer)
	for i := range 3 {
		var record sampleRecord
		if err := decoder.Decode(&record); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if record.ID != uint32(0x100+i) {
			t.Errorf("record %d ID = %#x", i, record.ID)
		}
	}
	var extra sampleRecord
	if err := decoder.Decode(&extra); err != io.EOF {
		t.Errorf("Decode past end = %v, want io.EOF", err)
	}
}

func TestStreamDecoderRejectsDeepNesting(t *testing.T) {
	var value any = "leaf"
	for range 20 {
		value = []any{value}
	}
	data, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := NewStreamDecoder(bytes.NewReader(data)).Decode(&decoded); err == nil {
		t.Fatal("expected nesting limit error")
	}
	if err := NewDecoder(bytes.NewReader(data)).Decode(&decoded); err != nil {
		t.Fatalf("default decoder rejected nesting: %v", err)
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]any{"id": 256})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	text, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(text, "256") {
		t.Errorf("Diagnose = %q, want it to mention 256", text)
	}
}
