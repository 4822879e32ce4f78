// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/signaldb"
	"github.com/sdv-zonal/canbridge/lib/vss"
)

// FrameRecord is a persisted raw frame. Seq is assigned on append and
// breaks ties between equal timestamps in insertion order.
type FrameRecord struct {
	Seq   int64
	Frame canframe.Frame

	// Message is the schema name of the frame's identifier, empty
	// when the identifier is not defined.
	Message string
}

// SignalRecord is one persisted decoded signal value, linked to the
// raw frame it was decoded from.
type SignalRecord struct {
	Seq       int64
	FrameSeq  int64
	Timestamp time.Time
	MessageID uint32
	Message   string
	Value     signaldb.SignalValue
}

// SampleRecord is a persisted mapped sample.
type SampleRecord struct {
	Seq    int64
	Sample vss.Sample
}

// FrameFilter selects frames. Zero fields do not filter.
type FrameFilter struct {
	// ID restricts results to one identifier when HasID is set.
	ID    uint32
	HasID bool

	// Start and End bound the timestamp, both inclusive.
	Start time.Time
	End   time.Time

	// Limit caps the number of results.
	Limit int
}

// SignalFilter selects decoded signals. Zero fields do not filter.
type SignalFilter struct {
	// MessageID restricts results to one identifier when HasID is set.
	MessageID uint32
	HasID     bool

	// Name matches the signal name exactly.
	Name string

	// FrameSeq restricts results to the signals of one frame.
	FrameSeq int64

	Start time.Time
	End   time.Time
	Limit int
}

// SampleFilter selects samples. Zero fields do not filter.
type SampleFilter struct {
	// Path matches exactly. PathPrefix matches the path and every
	// path beneath it ("Vehicle.Body" matches
	// "Vehicle.Body.Lights.IsHighBeamOn").
	Path       string
	PathPrefix string

	Start time.Time
	End   time.Time
	Limit int
}

// AppendFrame durably appends one raw frame.
func (s *Store) AppendFrame(ctx context.Context, record FrameRecord) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		_, err := insertFrame(conn, record)
		return err
	})
}

// AppendDecodedFrame durably appends a raw frame and the signal values
// decoded from it in one transaction: either the frame and all its
// signals are stored or nothing is.
func (s *Store) AppendDecodedFrame(ctx context.Context, record FrameRecord, signals []signaldb.SignalValue) error {
	return s.write(ctx, func(conn *sqlite.Conn) error {
		frameSeq, err := insertFrame(conn, record)
		if err != nil {
			return err
		}
		for _, signal := range signals {
			if err := insertSignal(conn, frameSeq, record, signal); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendSample durably appends one sample.
func (s *Store) AppendSample(ctx context.Context, sample vss.Sample) error {
	return s.AppendSamples(ctx, []vss.Sample{sample})
}

// AppendSamples durably appends samples in one transaction: either
// all are stored or none are.
func (s *Store) AppendSamples(ctx context.Context, samples []vss.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	return s.write(ctx, func(conn *sqlite.Conn) error {
		for _, sample := range samples {
			if err := insertSample(conn, sample); err != nil {
				return err
			}
		}
		return nil
	})
}

// write runs fn inside an IMMEDIATE transaction on the write
// connection while holding the writer lock. Cancelling ctx interrupts
// the statement in progress and rolls the transaction back.
func (s *Store) write(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}

	s.writer.SetInterrupt(ctx.Done())
	defer s.writer.SetInterrupt(nil)

	endTransaction, err := sqlitex.ImmediateTransaction(s.writer)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	return fn(s.writer)
}

// insertFrame inserts record and returns its sequence number.
func insertFrame(conn *sqlite.Conn, record FrameRecord) (int64, error) {
	frame := record.Frame
	extended := int64(0)
	if frame.Extended {
		extended = 1
	}
	err := sqlitex.Execute(conn,
		`INSERT INTO frames (timestamp, can_id, can_id_hex, extended, dlc, payload, message, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				frame.Timestamp.UnixNano(),
				int64(frame.ID),
				canframe.FormatID(frame.ID),
				extended,
				int64(frame.DLC),
				frame.Payload(),
				record.Message,
				frame.Source,
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: insert frame: %w", err)
	}
	return conn.LastInsertRowID(), nil
}

// insertSignal stores one decoded value. The raw bit pattern is kept
// in an INTEGER column as its two's complement reinterpretation, so
// 64-bit patterns survive unchanged. A signal without a configured
// range stores NULL bounds.
func insertSignal(conn *sqlite.Conn, frameSeq int64, record FrameRecord, signal signaldb.SignalValue) error {
	var minimum, maximum any
	if signal.Minimum != 0 || signal.Maximum != 0 {
		minimum, maximum = signal.Minimum, signal.Maximum
	}
	outOfRange := int64(0)
	if signal.OutOfRange {
		outOfRange = 1
	}
	err := sqlitex.Execute(conn,
		`INSERT INTO signals (frame_seq, timestamp, can_id, message, name, raw, physical, unit, minimum, maximum, out_of_range)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				frameSeq,
				record.Frame.Timestamp.UnixNano(),
				int64(record.Frame.ID),
				record.Message,
				signal.Name,
				int64(signal.Raw),
				signal.Physical,
				signal.Unit,
				minimum,
				maximum,
				outOfRange,
			},
		})
	if err != nil {
		return fmt.Errorf("store: insert signal %s.%s: %w", record.Message, signal.Name, err)
	}
	return nil
}

func insertSample(conn *sqlite.Conn, sample vss.Sample) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO samples (timestamp, path, data_type, value, unit, can_id, signal)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				sample.Timestamp.UnixNano(),
				sample.Path,
				string(sample.Value.Type),
				columnValue(sample.Value),
				sample.Unit,
				int64(sample.MessageID),
				sample.Signal,
			},
		})
	if err != nil {
		return fmt.Errorf("store: insert sample %s: %w", sample.Path, err)
	}
	return nil
}

// columnValue converts a sample value to the SQLite storage class that
// holds it exactly. Unsigned values above the int64 range are stored
// as decimal text.
func columnValue(value vss.Value) any {
	switch typed := value.Any().(type) {
	case bool:
		if typed {
			return int64(1)
		}
		return int64(0)
	case int64:
		return typed
	case uint64:
		if typed > math.MaxInt64 {
			return strconv.FormatUint(typed, 10)
		}
		return int64(typed)
	case float64:
		return typed
	}
	return nil
}

func scanValue(stmt *sqlite.Stmt, column int, dataType vss.DataType) (vss.Value, error) {
	value := vss.Value{Type: dataType}
	switch {
	case dataType == vss.Boolean:
		value.Bool = stmt.ColumnInt64(column) != 0
	case dataType.IsSigned():
		value.Int = stmt.ColumnInt64(column)
	case dataType.IsUnsigned():
		if stmt.ColumnType(column) == sqlite.TypeText {
			parsed, err := strconv.ParseUint(stmt.ColumnText(column), 10, 64)
			if err != nil {
				return vss.Value{}, fmt.Errorf("store: stored %s value: %w", dataType, err)
			}
			value.Uint = parsed
		} else {
			value.Uint = uint64(stmt.ColumnInt64(column))
		}
	case dataType == vss.Float || dataType == vss.Double:
		value.Float = stmt.ColumnFloat(column)
	default:
		return vss.Value{}, fmt.Errorf("store: unknown stored data type %q", dataType)
	}
	return value, nil
}

// errStopIteration ends a ResultFunc scan when the consumer of an
// iterator stops early.
var errStopIteration = errors.New("stop iteration")

// QueryFrames yields frames matching filter in timestamp order, ties
// in insertion order. Rows are read lazily while the caller ranges;
// the iterator holds one pooled connection until the loop ends.
func (s *Store) QueryFrames(ctx context.Context, filter FrameFilter) iter.Seq2[FrameRecord, error] {
	return func(yield func(FrameRecord, error) bool) {
		var conditions []string
		var args []any
		if filter.HasID {
			conditions = append(conditions, "can_id = ?")
			args = append(args, int64(filter.ID))
		}
		conditions, args = appendTimeRange(conditions, args, filter.Start, filter.End)

		query := "SELECT seq, timestamp, can_id, extended, dlc, payload, message, source FROM frames"
		query = finishQuery(query, conditions, filter.Limit, &args)

		s.scan(ctx, query, args, func(stmt *sqlite.Stmt) (bool, error) {
			record, err := scanFrame(stmt)
			if err != nil {
				return false, err
			}
			return yield(record, nil), nil
		}, func(err error) { yield(FrameRecord{}, err) })
	}
}

// QuerySignals yields decoded signal values matching filter in
// timestamp order, ties in insertion order, so the signals of one frame
// keep their definition order.
func (s *Store) QuerySignals(ctx context.Context, filter SignalFilter) iter.Seq2[SignalRecord, error] {
	return func(yield func(SignalRecord, error) bool) {
		var conditions []string
		var args []any
		if filter.HasID {
			conditions = append(conditions, "can_id = ?")
			args = append(args, int64(filter.MessageID))
		}
		if filter.Name != "" {
			conditions = append(conditions, "name = ?")
			args = append(args, filter.Name)
		}
		if filter.FrameSeq != 0 {
			conditions = append(conditions, "frame_seq = ?")
			args = append(args, filter.FrameSeq)
		}
		conditions, args = appendTimeRange(conditions, args, filter.Start, filter.End)

		query := `SELECT seq, frame_seq, timestamp, can_id, message, name, raw, physical, unit,
			minimum, maximum, out_of_range FROM signals`
		query = finishQuery(query, conditions, filter.Limit, &args)

		s.scan(ctx, query, args, func(stmt *sqlite.Stmt) (bool, error) {
			return yield(scanSignal(stmt), nil), nil
		}, func(err error) { yield(SignalRecord{}, err) })
	}
}

// QuerySamples yields samples matching filter in timestamp order,
// ties in insertion order.
func (s *Store) QuerySamples(ctx context.Context, filter SampleFilter) iter.Seq2[SampleRecord, error] {
	return func(yield func(SampleRecord, error) bool) {
		var conditions []string
		var args []any
		if filter.Path != "" {
			conditions = append(conditions, "path = ?")
			args = append(args, filter.Path)
		}
		if filter.PathPrefix != "" {
			conditions = append(conditions, "(path = ? OR substr(path, 1, ?) = ?)")
			prefix := strings.TrimSuffix(filter.PathPrefix, ".") + "."
			args = append(args, strings.TrimSuffix(filter.PathPrefix, "."), int64(len(prefix)), prefix)
		}
		conditions, args = appendTimeRange(conditions, args, filter.Start, filter.End)

		query := "SELECT seq, timestamp, path, data_type, value, unit, can_id, signal FROM samples"
		query = finishQuery(query, conditions, filter.Limit, &args)

		s.scan(ctx, query, args, func(stmt *sqlite.Stmt) (bool, error) {
			record, err := scanSample(stmt)
			if err != nil {
				return false, err
			}
			return yield(record, nil), nil
		}, func(err error) { yield(SampleRecord{}, err) })
	}
}

func appendTimeRange(conditions []string, args []any, start, end time.Time) ([]string, []any) {
	if !start.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, start.UnixNano())
	}
	if !end.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, end.UnixNano())
	}
	return conditions, args
}

func finishQuery(query string, conditions []string, limit int, args *[]any) string {
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp ASC, seq ASC"
	if limit > 0 {
		query += " LIMIT ?"
		*args = append(*args, int64(limit))
	}
	return query
}

// scan runs a read query, handing each row to row until it returns
// false. Errors, including failing to get a connection, go to fail.
func (s *Store) scan(ctx context.Context, query string, args []any, row func(*sqlite.Stmt) (bool, error), fail func(error)) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		fail(fmt.Errorf("store: query: %w", err))
		return
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			more, err := row(stmt)
			if err != nil {
				return err
			}
			if !more {
				return errStopIteration
			}
			return nil
		},
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		fail(fmt.Errorf("store: query: %w", err))
	}
}

func scanFrame(stmt *sqlite.Stmt) (FrameRecord, error) {
	payload := make([]byte, stmt.ColumnLen(5))
	stmt.ColumnBytes(5, payload)

	frame, err := canframe.New(
		uint32(stmt.ColumnInt64(2)),
		stmt.ColumnInt64(3) != 0,
		time.Unix(0, stmt.ColumnInt64(1)).UTC(),
		payload,
	)
	if err != nil {
		return FrameRecord{}, fmt.Errorf("store: stored frame %d: %w", stmt.ColumnInt64(0), err)
	}
	if int(stmt.ColumnInt64(4)) != len(payload) {
		return FrameRecord{}, fmt.Errorf("store: stored frame %d: dlc %d but %d payload bytes",
			stmt.ColumnInt64(0), stmt.ColumnInt64(4), len(payload))
	}
	frame.Source = stmt.ColumnText(7)
	return FrameRecord{
		Seq:     stmt.ColumnInt64(0),
		Frame:   frame,
		Message: stmt.ColumnText(6),
	}, nil
}

func scanSignal(stmt *sqlite.Stmt) SignalRecord {
	return SignalRecord{
		Seq:       stmt.ColumnInt64(0),
		FrameSeq:  stmt.ColumnInt64(1),
		Timestamp: time.Unix(0, stmt.ColumnInt64(2)).UTC(),
		MessageID: uint32(stmt.ColumnInt64(3)),
		Message:   stmt.ColumnText(4),
		Value: signaldb.SignalValue{
			Name:       stmt.ColumnText(5),
			Raw:        uint64(stmt.ColumnInt64(6)),
			Physical:   stmt.ColumnFloat(7),
			Unit:       stmt.ColumnText(8),
			Minimum:    stmt.ColumnFloat(9),
			Maximum:    stmt.ColumnFloat(10),
			OutOfRange: stmt.ColumnInt64(11) != 0,
		},
	}
}

func scanSample(stmt *sqlite.Stmt) (SampleRecord, error) {
	dataType := vss.DataType(stmt.ColumnText(3))
	value, err := scanValue(stmt, 4, dataType)
	if err != nil {
		return SampleRecord{}, err
	}
	return SampleRecord{
		Seq: stmt.ColumnInt64(0),
		Sample: vss.Sample{
			Timestamp: time.Unix(0, stmt.ColumnInt64(1)).UTC(),
			Path:      stmt.ColumnText(2),
			Value:     value,
			Unit:      stmt.ColumnText(5),
			MessageID: uint32(stmt.ColumnInt64(6)),
			Signal:    stmt.ColumnText(7),
		},
	}, nil
}
