// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaldb

import (
	"encoding/hex"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/codec"
)

// ByteOrder is the bit numbering convention of a signal.
type ByteOrder int

const (
	// LittleEndian (Intel): the payload is read as an LSB-first bit
	// stream and the start bit is the signal's least significant bit.
	LittleEndian ByteOrder = iota

	// BigEndian (Motorola, DBC numbering): the start bit is the
	// position of the signal's most significant bit, counted as
	// byte*8 + bit with bit 0 the least significant bit of the byte.
	// The signal continues towards less significant bits and wraps
	// into bit 7 of the following byte.
	BigEndian
)

func (b ByteOrder) String() string {
	if b == BigEndian {
		return "big_endian"
	}
	return "little_endian"
}

// UnmarshalYAML accepts the DBC spellings as well as the canonical
// ones.
func (b *ByteOrder) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(node.Value) {
	case "little_endian", "little", "intel", "":
		*b = LittleEndian
	case "big_endian", "big", "motorola":
		*b = BigEndian
	default:
		return fmt.Errorf("line %d: unknown byte order %q", node.Line, node.Value)
	}
	return nil
}

// MarshalYAML writes the canonical spelling.
func (b ByteOrder) MarshalYAML() (any, error) { return b.String(), nil }

// Signal describes one field packed inside a message payload.
// physical = raw*Scale + Offset. Minimum and Maximum bound the
// physical value; when both are zero the signal has no configured
// range.
type Signal struct {
	Name      string
	StartBit  int
	Length    int
	ByteOrder ByteOrder
	Signed    bool
	Scale     float64
	Offset    float64
	Minimum   float64
	Maximum   float64
	Unit      string
	Comment   string
	Receivers []string

	// positions lists the payload bit positions in significance
	// order, most significant first.
	positions []int
	occupied  uint64
}

// HasRange reports whether Minimum and Maximum were configured.
func (s Signal) HasRange() bool {
	return s.Minimum != 0 || s.Maximum != 0
}

// InRange reports whether physical lies within the configured range.
// Signals without a range accept every value.
func (s Signal) InRange(physical float64) bool {
	if !s.HasRange() {
		return true
	}
	return physical >= s.Minimum && physical <= s.Maximum
}

// BytesRequired is the smallest DLC that contains every bit of the
// signal.
func (s Signal) BytesRequired() int {
	highest := 0
	for _, position := range s.positions {
		highest = max(highest, position)
	}
	return highest/8 + 1
}

// Message is the layout of one frame identifier.
type Message struct {
	ID       uint32
	Extended bool
	Name     string
	Length   int
	Sender   string
	Comment  string

	signals       []Signal
	bytesRequired int
}

// Signals returns the signal definitions in declaration order. The
// returned slice is a copy.
func (m Message) Signals() []Signal {
	return slices.Clone(m.signals)
}

// Signal looks up a signal by name.
func (m Message) Signal(name string) (Signal, bool) {
	for _, signal := range m.signals {
		if signal.Name == name {
			return signal, true
		}
	}
	return Signal{}, false
}

// BytesRequired is the smallest DLC that can carry every signal.
func (m Message) BytesRequired() int { return m.bytesRequired }

// Database is a validated, immutable schema. Safe for concurrent use.
type Database struct {
	messages    []Message
	byKey       map[messageKey]int
	byName      map[string]int
	fingerprint string
}

type messageKey struct {
	id       uint32
	extended bool
}

// Messages returns every message definition ordered by identifier.
func (d *Database) Messages() []Message {
	return slices.Clone(d.messages)
}

// Message looks up the definition for an identifier.
func (d *Database) Message(id uint32, extended bool) (Message, bool) {
	index, ok := d.byKey[messageKey{id, extended}]
	if !ok {
		return Message{}, false
	}
	return d.messages[index], true
}

// MessageName returns the name defined for id, preferring the
// standard frame format, or "" when neither format defines it.
func (d *Database) MessageName(id uint32) string {
	if message, ok := d.Message(id, false); ok {
		return message.Name
	}
	if message, ok := d.Message(id, true); ok {
		return message.Name
	}
	return ""
}

// MessageByName looks up a definition by message name.
func (d *Database) MessageByName(name string) (Message, bool) {
	index, ok := d.byName[name]
	if !ok {
		return Message{}, false
	}
	return d.messages[index], true
}

// Fingerprint is a BLAKE3 digest of the normalized schema, in hex.
// Whitespace, comments, and key order in the source file do not
// affect it; any change to a layout does.
func (d *Database) Fingerprint() string { return d.fingerprint }

// schemaFile is the YAML document layout.
type schemaFile struct {
	Version  int           `yaml:"version"`
	Messages []messageFile `yaml:"messages"`
}

type messageFile struct {
	ID       frameID      `yaml:"id"`
	Extended bool         `yaml:"extended"`
	Name     string       `yaml:"name"`
	Length   *int         `yaml:"length"`
	Sender   string       `yaml:"sender"`
	Comment  string       `yaml:"comment"`
	Signals  []signalFile `yaml:"signals"`
}

type signalFile struct {
	Name      string    `yaml:"name"`
	StartBit  *int      `yaml:"start_bit"`
	Length    int       `yaml:"length"`
	ByteOrder ByteOrder `yaml:"byte_order"`
	Signed    bool      `yaml:"signed"`
	Scale     *float64  `yaml:"scale"`
	Offset    float64   `yaml:"offset"`
	Minimum   float64   `yaml:"minimum"`
	Maximum   float64   `yaml:"maximum"`
	Unit      string    `yaml:"unit"`
	Comment   string    `yaml:"comment"`
	Receivers []string  `yaml:"receivers"`
}

// frameID accepts identifiers written as YAML integers or as strings
// such as "0x100".
type frameID uint32

func (f *frameID) UnmarshalYAML(node *yaml.Node) error {
	id, err := canframe.ParseID(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*f = frameID(id)
	return nil
}

// Load reads and validates a schema file.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signal schema: %w", err)
	}
	database, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return database, nil
}

// Parse validates a schema document. Every identifier must be in
// range and unique, every signal must fit its message, and no two
// signals of a message may share a bit.
func Parse(data []byte) (*Database, error) {
	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if file.Version != 0 && file.Version != 1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidSchema, file.Version)
	}

	database := &Database{
		byKey:  make(map[messageKey]int, len(file.Messages)),
		byName: make(map[string]int, len(file.Messages)),
	}

	messages := make([]Message, 0, len(file.Messages))
	for _, definition := range file.Messages {
		message, err := buildMessage(definition)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	slices.SortStableFunc(messages, func(a, b Message) int {
		if a.ID != b.ID {
			if a.ID < b.ID {
				return -1
			}
			return 1
		}
		if a.Extended == b.Extended {
			return 0
		}
		if a.Extended {
			return 1
		}
		return -1
	})

	for index, message := range messages {
		key := messageKey{message.ID, message.Extended}
		if _, exists := database.byKey[key]; exists {
			return nil, fmt.Errorf("%w: duplicate message id %s", ErrInvalidSchema, canframe.FormatID(message.ID))
		}
		if _, exists := database.byName[message.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate message name %q", ErrInvalidSchema, message.Name)
		}
		database.byKey[key] = index
		database.byName[message.Name] = index
	}
	database.messages = messages

	fingerprint, err := fingerprintOf(messages)
	if err != nil {
		return nil, err
	}
	database.fingerprint = fingerprint
	return database, nil
}

func buildMessage(definition messageFile) (Message, error) {
	id := uint32(definition.ID)
	label := fmt.Sprintf("message %s", canframe.FormatID(id))
	if definition.Name != "" {
		label = fmt.Sprintf("message %s (%s)", canframe.FormatID(id), definition.Name)
	}

	limit := canframe.MaxStandardID
	if definition.Extended {
		limit = canframe.MaxExtendedID
	}
	if id > limit {
		return Message{}, fmt.Errorf("%w: %s: identifier exceeds %s", ErrInvalidSchema, label, canframe.FormatID(limit))
	}
	if definition.Name == "" {
		return Message{}, fmt.Errorf("%w: %s: name is required", ErrInvalidSchema, label)
	}

	length := canframe.MaxDLC
	if definition.Length != nil {
		length = *definition.Length
	}
	if length < 0 || length > canframe.MaxDLC {
		return Message{}, fmt.Errorf("%w: %s: length %d outside 0-%d", ErrInvalidSchema, label, length, canframe.MaxDLC)
	}

	message := Message{
		ID:       id,
		Extended: definition.Extended,
		Name:     definition.Name,
		Length:   length,
		Sender:   definition.Sender,
		Comment:  definition.Comment,
	}

	var occupied uint64
	names := make(map[string]bool, len(definition.Signals))
	for _, signalDefinition := range definition.Signals {
		signal, err := buildSignal(signalDefinition, length)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %s: %v", ErrInvalidSchema, label, err)
		}
		if names[signal.Name] {
			return Message{}, fmt.Errorf("%w: %s: duplicate signal %q", ErrInvalidSchema, label, signal.Name)
		}
		names[signal.Name] = true
		if occupied&signal.occupied != 0 {
			overlapping := overlappingSignal(message.signals, signal.occupied)
			return Message{}, fmt.Errorf("%w: %s: signal %q overlaps %q", ErrInvalidSchema, label, signal.Name, overlapping)
		}
		occupied |= signal.occupied
		message.signals = append(message.signals, signal)
		message.bytesRequired = max(message.bytesRequired, signal.BytesRequired())
	}
	return message, nil
}

func overlappingSignal(signals []Signal, occupied uint64) string {
	for _, signal := range signals {
		if signal.occupied&occupied != 0 {
			return signal.Name
		}
	}
	return ""
}

func buildSignal(definition signalFile, messageLength int) (Signal, error) {
	if definition.Name == "" {
		return Signal{}, fmt.Errorf("signal name is required")
	}
	if definition.StartBit == nil {
		return Signal{}, fmt.Errorf("signal %q: start_bit is required", definition.Name)
	}
	if definition.Length < 1 || definition.Length > 64 {
		return Signal{}, fmt.Errorf("signal %q: length %d outside 1-64", definition.Name, definition.Length)
	}
	scale := 1.0
	if definition.Scale != nil {
		scale = *definition.Scale
	}
	if scale == 0 {
		return Signal{}, fmt.Errorf("signal %q: scale must be non-zero", definition.Name)
	}
	if definition.Minimum > definition.Maximum {
		return Signal{}, fmt.Errorf("signal %q: minimum %v exceeds maximum %v", definition.Name, definition.Minimum, definition.Maximum)
	}

	positions, err := bitPositions(*definition.StartBit, definition.Length, definition.ByteOrder, messageLength*8)
	if err != nil {
		return Signal{}, fmt.Errorf("signal %q: %v", definition.Name, err)
	}

	signal := Signal{
		Name:      definition.Name,
		StartBit:  *definition.StartBit,
		Length:    definition.Length,
		ByteOrder: definition.ByteOrder,
		Signed:    definition.Signed,
		Scale:     scale,
		Offset:    definition.Offset,
		Minimum:   definition.Minimum,
		Maximum:   definition.Maximum,
		Unit:      definition.Unit,
		Comment:   definition.Comment,
		Receivers: definition.Receivers,
		positions: positions,
	}
	for _, position := range positions {
		signal.occupied |= 1 << uint(position)
	}
	return signal, nil
}

// canonicalSignal is the normalized form hashed into the fingerprint.
type canonicalSignal struct {
	Name      string  `cbor:"name"`
	StartBit  int     `cbor:"start_bit"`
	Length    int     `cbor:"length"`
	ByteOrder string  `cbor:"byte_order"`
	Signed    bool    `cbor:"signed"`
	Scale     float64 `cbor:"scale"`
	Offset    float64 `cbor:"offset"`
	Minimum   float64 `cbor:"minimum"`
	Maximum   float64 `cbor:"maximum"`
	Unit      string  `cbor:"unit"`
}

type canonicalMessage struct {
	ID       uint32            `cbor:"id"`
	Extended bool              `cbor:"extended"`
	Name     string            `cbor:"name"`
	Length   int               `cbor:"length"`
	Signals  []canonicalSignal `cbor:"signals"`
}

func fingerprintOf(messages []Message) (string, error) {
	canonical := make([]canonicalMessage, 0, len(messages))
	for _, message := range messages {
		entry := canonicalMessage{
			ID:       message.ID,
			Extended: message.Extended,
			Name:     message.Name,
			Length:   message.Length,
		}
		for _, signal := range message.signals {
			entry.Signals = append(entry.Signals, canonicalSignal{
				Name:      signal.Name,
				StartBit:  signal.StartBit,
				Length:    signal.Length,
				ByteOrder: signal.ByteOrder.String(),
				Signed:    signal.Signed,
				Scale:     signal.Scale,
				Offset:    signal.Offset,
				Minimum:   signal.Minimum,
				Maximum:   signal.Maximum,
				Unit:      signal.Unit,
			})
		}
		canonical = append(canonical, entry)
	}
	data, err := codec.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("encoding schema fingerprint: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
