// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/zeebo/blake3"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/codec"
	"github.com/sdv-zonal/canbridge/lib/store"
	"github.com/sdv-zonal/canbridge/lib/vss"
)

// magic opens every archive, followed by one version byte and one
// Compression byte.
var magic = [4]byte{'C', 'A', 'N', 'A'}

const formatVersion = 1

// ErrCorrupt is wrapped by every failure caused by archive contents
// rather than by I/O.
var ErrCorrupt = errors.New("corrupt archive")

// Header describes an archive. It is the first item of the body.
type Header struct {
	Created time.Time
	// Source names where the records came from, usually the store
	// path.
	Source string
}

// Entry is one record read back from an archive. Exactly one field is
// set.
type Entry struct {
	Frame  *store.FrameRecord
	Sample *store.SampleRecord
}

const (
	kindHeader = "header"
	kindFrame  = "frame"
	kindSample = "sample"
	kindEnd    = "end"
)

// item is the body encoding: a CBOR sequence of items, header first,
// end last. The end item carries the counts and a BLAKE3 digest of
// every encoded item before it.
type item struct {
	Kind string `cbor:"kind"`

	Created int64  `cbor:"created_ns,omitempty"`
	Source  string `cbor:"source,omitempty"`

	Frame  *frameItem  `cbor:"frame,omitempty"`
	Sample *sampleItem `cbor:"sample,omitempty"`

	Frames  int64  `cbor:"frames,omitempty"`
	Samples int64  `cbor:"samples,omitempty"`
	Digest  []byte `cbor:"digest,omitempty"`
}

type frameItem struct {
	Seq       int64  `cbor:"seq"`
	Timestamp int64  `cbor:"timestamp_ns"`
	ID        uint32 `cbor:"id"`
	Extended  bool   `cbor:"extended,omitempty"`
	Data      []byte `cbor:"data"`
	Message   string `cbor:"message,omitempty"`
	Source    string `cbor:"source,omitempty"`
}

type sampleItem struct {
	Seq       int64   `cbor:"seq"`
	Timestamp int64   `cbor:"timestamp_ns"`
	Path      string  `cbor:"path"`
	Type      string  `cbor:"type"`
	Bool      bool    `cbor:"bool,omitempty"`
	Int       int64   `cbor:"int,omitempty"`
	Uint      uint64  `cbor:"uint,omitempty"`
	Float     float64 `cbor:"float,omitempty"`
	Unit      string  `cbor:"unit,omitempty"`
	MessageID uint32  `cbor:"can_id"`
	Signal    string  `cbor:"signal,omitempty"`
}

// Writer writes one archive. It is not safe for concurrent use.
type Writer struct {
	body    io.WriteCloser
	digest  hash.Hash
	frames  int64
	samples int64
	closed  bool
}

// NewWriter writes the preamble and header to w and returns a writer
// for the records. Close must be called to produce a readable
// archive; it does not close w.
func NewWriter(w io.Writer, compression Compression, header Header) (*Writer, error) {
	preamble := append(magic[:], formatVersion, byte(compression))
	if _, err := w.Write(preamble); err != nil {
		return nil, fmt.Errorf("archive: writing preamble: %w", err)
	}
	body, err := compressor(w, compression)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	writer := &Writer{body: body, digest: blake3.New()}

	created := int64(0)
	if !header.Created.IsZero() {
		created = header.Created.UnixNano()
	}
	if err := writer.write(item{Kind: kindHeader, Created: created, Source: header.Source}); err != nil {
		return nil, err
	}
	return writer, nil
}

// WriteFrame appends a frame record.
func (w *Writer) WriteFrame(record store.FrameRecord) error {
	frame := record.Frame
	err := w.write(item{Kind: kindFrame, Frame: &frameItem{
		Seq:       record.Seq,
		Timestamp: frame.Timestamp.UnixNano(),
		ID:        frame.ID,
		Extended:  frame.Extended,
		Data:      frame.Payload(),
		Message:   record.Message,
		Source:    frame.Source,
	}})
	if err == nil {
		w.frames++
	}
	return err
}

// WriteSample appends a sample record.
func (w *Writer) WriteSample(record store.SampleRecord) error {
	sample := record.Sample
	err := w.write(item{Kind: kindSample, Sample: &sampleItem{
		Seq:       record.Seq,
		Timestamp: sample.Timestamp.UnixNano(),
		Path:      sample.Path,
		Type:      string(sample.Value.Type),
		Bool:      sample.Value.Bool,
		Int:       sample.Value.Int,
		Uint:      sample.Value.Uint,
		Float:     sample.Value.Float,
		Unit:      sample.Unit,
		MessageID: sample.MessageID,
		Signal:    sample.Signal,
	}})
	if err == nil {
		w.samples++
	}
	return err
}

// Counts returns the number of records written so far.
func (w *Writer) Counts() (frames, samples int64) {
	return w.frames, w.samples
}

// Close writes the end item and flushes the compression stream.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	end := item{Kind: kindEnd, Frames: w.frames, Samples: w.samples, Digest: w.digest.Sum(nil)}
	data, err := codec.Marshal(end)
	if err != nil {
		return fmt.Errorf("archive: encoding end: %w", err)
	}
	if _, err := w.body.Write(data); err != nil {
		return fmt.Errorf("archive: writing end: %w", err)
	}
	if err := w.body.Close(); err != nil {
		return fmt.Errorf("archive: flushing: %w", err)
	}
	return nil
}

func (w *Writer) write(value item) error {
	if w.closed {
		return errors.New("archive: write after close")
	}
	data, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("archive: encoding %s: %w", value.Kind, err)
	}
	w.digest.Write(data)
	if _, err := w.body.Write(data); err != nil {
		return fmt.Errorf("archive: writing %s: %w", value.Kind, err)
	}
	return nil
}

// Reader reads an archive written by Writer.
type Reader struct {
	header      Header
	compression Compression
	decoder     *codec.Decoder
	release     func()
	digest      hash.Hash
	frames      int64
	samples     int64
	done        bool
}

// NewReader checks the preamble and reads the header. Close releases
// decompression resources; it does not close r.
func NewReader(r io.Reader) (*Reader, error) {
	var preamble [6]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		return nil, fmt.Errorf("%w: reading preamble: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(preamble[:4], magic[:]) {
		return nil, fmt.Errorf("%w: not an archive", ErrCorrupt)
	}
	if preamble[4] != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, preamble[4])
	}
	compression := Compression(preamble[5])
	body, release, err := decompressor(r, compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	reader := &Reader{
		compression: compression,
		decoder:     codec.NewDecoder(bufio.NewReader(body)),
		release:     release,
		digest:      blake3.New(),
	}
	first, err := reader.next()
	if err != nil {
		reader.Close()
		return nil, err
	}
	if first.Kind != kindHeader {
		reader.Close()
		return nil, fmt.Errorf("%w: first item is %q, want header", ErrCorrupt, first.Kind)
	}
	if first.Created != 0 {
		reader.header.Created = time.Unix(0, first.Created).UTC()
	}
	reader.header.Source = first.Source
	return reader, nil
}

// Header returns the archive header.
func (r *Reader) Header() Header { return r.header }

// Compression returns the compression the archive was written with.
func (r *Reader) Compression() Compression { return r.compression }

// Next returns the next record. After the last record it verifies the
// end item and returns io.EOF. A body that stops before the end item
// is corrupt.
func (r *Reader) Next() (Entry, error) {
	if r.done {
		return Entry{}, io.EOF
	}
	value, err := r.next()
	if err != nil {
		return Entry{}, err
	}

	switch value.Kind {
	case kindFrame:
		if value.Frame == nil {
			return Entry{}, fmt.Errorf("%w: frame item without frame", ErrCorrupt)
		}
		record, err := value.Frame.record()
		if err != nil {
			return Entry{}, err
		}
		r.frames++
		return Entry{Frame: &record}, nil

	case kindSample:
		if value.Sample == nil {
			return Entry{}, fmt.Errorf("%w: sample item without sample", ErrCorrupt)
		}
		record, err := value.Sample.record()
		if err != nil {
			return Entry{}, err
		}
		r.samples++
		return Entry{Sample: &record}, nil

	case kindEnd:
		r.done = true
		if value.Frames != r.frames || value.Samples != r.samples {
			return Entry{}, fmt.Errorf("%w: end item counts %d frames and %d samples, read %d and %d",
				ErrCorrupt, value.Frames, value.Samples, r.frames, r.samples)
		}
		if !bytes.Equal(value.Digest, r.digest.Sum(nil)) {
			return Entry{}, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
		}
		return Entry{}, io.EOF
	}
	return Entry{}, fmt.Errorf("%w: unexpected %q item", ErrCorrupt, value.Kind)
}

// Close releases decompression resources.
func (r *Reader) Close() error {
	if r.release != nil {
		r.release()
		r.release = nil
	}
	return nil
}

// next decodes one item and folds it into the running digest, except
// the end item which carries the digest.
func (r *Reader) next() (item, error) {
	var raw codec.RawMessage
	if err := r.decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return item{}, fmt.Errorf("%w: missing end item", ErrCorrupt)
		}
		return item{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var value item
	if err := codec.Unmarshal(raw, &value); err != nil {
		return item{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if value.Kind != kindEnd {
		r.digest.Write(raw)
	}
	return value, nil
}

func (f *frameItem) record() (store.FrameRecord, error) {
	frame, err := canframe.New(f.ID, f.Extended, time.Unix(0, f.Timestamp).UTC(), f.Data)
	if err != nil {
		return store.FrameRecord{}, fmt.Errorf("%w: frame %d: %v", ErrCorrupt, f.Seq, err)
	}
	frame.Source = f.Source
	return store.FrameRecord{Seq: f.Seq, Frame: frame, Message: f.Message}, nil
}

func (s *sampleItem) record() (store.SampleRecord, error) {
	dataType := vss.DataType(s.Type)
	if !dataType.Valid() {
		return store.SampleRecord{}, fmt.Errorf("%w: sample %d: unknown data type %q", ErrCorrupt, s.Seq, s.Type)
	}
	return store.SampleRecord{
		Seq: s.Seq,
		Sample: vss.Sample{
			Timestamp: time.Unix(0, s.Timestamp).UTC(),
			Path:      s.Path,
			Value: vss.Value{
				Type:  dataType,
				Bool:  s.Bool,
				Int:   s.Int,
				Uint:  s.Uint,
				Float: s.Float,
			},
			Unit:      s.Unit,
			MessageID: s.MessageID,
			Signal:    s.Signal,
		},
	}, nil
}
