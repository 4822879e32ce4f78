// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vss

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/codec"
	"github.com/sdv-zonal/canbridge/lib/signaldb"
)

var (
	// ErrInvalidMapping wraps every problem found while loading a
	// mapping table.
	ErrInvalidMapping = errors.New("invalid signal mapping")

	// ErrTypeMismatch: a physical value cannot be represented in the
	// mapped path's data type.
	ErrTypeMismatch = errors.New("type mismatch")
)

// pathPattern accepts dot-separated VSS paths with at least two
// segments, rooted at a capitalized branch such as "Vehicle".
var pathPattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)+$`)

// Entry maps one decoded signal onto a VSS path.
type Entry struct {
	MessageID   uint32
	Signal      string
	Path        string
	DataType    DataType
	Scale       float64
	Offset      float64
	Unit        string
	Description string
}

// Sample is one mapped value.
type Sample struct {
	Timestamp time.Time
	Path      string
	Value     Value
	MessageID uint32
	Signal    string
	Unit      string
}

type entryKey struct {
	id     uint32
	signal string
}

// Table is an immutable mapping table. Safe for concurrent use.
type Table struct {
	entries     map[entryKey]Entry
	fingerprint string
}

// mappingFile is the on-disk layout shared by the YAML and JSONC
// forms:
//
//	mappings:
//	  "0x100":
//	    headLamp:
//	      vss_path: Vehicle.Body.Lights.IsHighBeamOn
//	      data_type: boolean
type mappingFile struct {
	Version  int                             `yaml:"version" json:"version"`
	Mappings map[string]map[string]entryFile `yaml:"mappings" json:"mappings"`
}

type entryFile struct {
	Path        string          `yaml:"vss_path" json:"vss_path"`
	DataType    DataType        `yaml:"data_type" json:"data_type"`
	Description string          `yaml:"description" json:"description"`
	Unit        string          `yaml:"unit" json:"unit"`
	Conversion  *conversionFile `yaml:"conversion" json:"conversion"`
}

type conversionFile struct {
	Scale  *float64 `yaml:"scale" json:"scale"`
	Offset float64  `yaml:"offset" json:"offset"`
}

// LoadTable reads a mapping file. Files ending in .json or .jsonc are
// JSON with comments and trailing commas; anything else is YAML.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signal mapping: %w", err)
	}

	var table *Table
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		table, err = ParseJSONC(data)
	default:
		table, err = ParseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// ParseYAML parses a YAML mapping table.
func ParseYAML(data []byte) (*Table, error) {
	var file mappingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	return buildTable(file)
}

// ParseJSONC parses a JSON mapping table that may contain // and /* */
// comments and trailing commas.
func ParseJSONC(data []byte) (*Table, error) {
	var file mappingFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	return buildTable(file)
}

func buildTable(file mappingFile) (*Table, error) {
	if file.Version != 0 && file.Version != 1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidMapping, file.Version)
	}

	table := &Table{entries: make(map[entryKey]Entry)}
	for idText, signals := range file.Mappings {
		id, err := canframe.ParseID(idText)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
		}
		for signal, definition := range signals {
			entry, err := buildEntry(id, signal, definition)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidMapping, canframe.FormatID(id), signal, err)
			}
			key := entryKey{id, signal}
			// "0x100" and "256" name the same identifier.
			if _, exists := table.entries[key]; exists {
				return nil, fmt.Errorf("%w: %s.%s mapped twice", ErrInvalidMapping, canframe.FormatID(id), signal)
			}
			table.entries[key] = entry
		}
	}

	fingerprint, err := fingerprintOf(table.Entries())
	if err != nil {
		return nil, err
	}
	table.fingerprint = fingerprint
	return table, nil
}

func buildEntry(id uint32, signal string, definition entryFile) (Entry, error) {
	if signal == "" {
		return Entry{}, fmt.Errorf("empty signal name")
	}
	if !pathPattern.MatchString(definition.Path) {
		return Entry{}, fmt.Errorf("invalid vss_path %q", definition.Path)
	}
	if !definition.DataType.Valid() {
		return Entry{}, fmt.Errorf("unknown data_type %q", definition.DataType)
	}
	entry := Entry{
		MessageID:   id,
		Signal:      signal,
		Path:        definition.Path,
		DataType:    definition.DataType,
		Scale:       1,
		Unit:        definition.Unit,
		Description: definition.Description,
	}
	if conversion := definition.Conversion; conversion != nil {
		if conversion.Scale != nil {
			if *conversion.Scale == 0 {
				return Entry{}, fmt.Errorf("conversion scale must be non-zero")
			}
			entry.Scale = *conversion.Scale
		}
		entry.Offset = conversion.Offset
	}
	return entry, nil
}

// Len returns the number of mapped signals.
func (t *Table) Len() int { return len(t.entries) }

// Lookup returns the entry for a signal of a frame identifier.
func (t *Table) Lookup(id uint32, signal string) (Entry, bool) {
	entry, ok := t.entries[entryKey{id, signal}]
	return entry, ok
}

// Entries returns every entry ordered by identifier, then signal.
func (t *Table) Entries() []Entry {
	entries := make([]Entry, 0, len(t.entries))
	for _, entry := range t.entries {
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b Entry) int {
		if a.MessageID != b.MessageID {
			if a.MessageID < b.MessageID {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Signal, b.Signal)
	})
	return entries
}

// Fingerprint is a BLAKE3 digest of the normalized table, in hex.
func (t *Table) Fingerprint() string { return t.fingerprint }

// Check verifies that every mapped signal exists in database. A
// mapping that names a signal the codec never produces would silently
// never fire.
func (t *Table) Check(database *signaldb.Database) error {
	var problems []error
	for _, entry := range t.Entries() {
		found := false
		for _, extended := range []bool{false, true} {
			message, ok := database.Message(entry.MessageID, extended)
			if !ok {
				continue
			}
			if _, ok := message.Signal(entry.Signal); ok {
				found = true
				break
			}
		}
		if !found {
			problems = append(problems, fmt.Errorf("%s.%s (%s) has no signal definition",
				canframe.FormatID(entry.MessageID), entry.Signal, entry.Path))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidMapping, errors.Join(problems...))
	}
	return nil
}

// Map converts one decoded signal into a sample. ok is false, with a
// nil error, when the signal has no mapping. A mapped value that does
// not fit the path's data type returns ErrTypeMismatch.
func (t *Table) Map(timestamp time.Time, id uint32, signal string, physical float64) (Sample, bool, error) {
	entry, ok := t.entries[entryKey{id, signal}]
	if !ok {
		return Sample{}, false, nil
	}
	value, err := Coerce(physical*entry.Scale+entry.Offset, entry.DataType)
	if err != nil {
		return Sample{}, false, fmt.Errorf("%s.%s -> %s: %w", canframe.FormatID(id), signal, entry.Path, err)
	}
	return Sample{
		Timestamp: timestamp,
		Path:      entry.Path,
		Value:     value,
		MessageID: id,
		Signal:    signal,
		Unit:      entry.Unit,
	}, true, nil
}

// MapDecoded maps every signal of a decoded frame. Unmapped signals
// are skipped; signals that fail coercion are reported in errs and
// skipped, so one bad signal does not lose the rest of the frame.
func (t *Table) MapDecoded(decoded signaldb.Decoded) (samples []Sample, errs []error) {
	for _, value := range decoded.Signals {
		sample, ok, err := t.Map(decoded.Timestamp, decoded.ID, value.Name, value.Physical)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			samples = append(samples, sample)
		}
	}
	return samples, errs
}

type canonicalEntry struct {
	ID       uint32  `cbor:"id"`
	Signal   string  `cbor:"signal"`
	Path     string  `cbor:"path"`
	DataType string  `cbor:"data_type"`
	Scale    float64 `cbor:"scale"`
	Offset   float64 `cbor:"offset"`
}

func fingerprintOf(entries []Entry) (string, error) {
	canonical := make([]canonicalEntry, 0, len(entries))
	for _, entry := range entries {
		canonical = append(canonical, canonicalEntry{
			ID:       entry.MessageID,
			Signal:   entry.Signal,
			Path:     entry.Path,
			DataType: string(entry.DataType),
			Scale:    entry.Scale,
			Offset:   entry.Offset,
		})
	}
	data, err := codec.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("encoding mapping fingerprint: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
