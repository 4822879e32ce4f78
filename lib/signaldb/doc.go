// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signaldb is the frame codec: it turns raw bus frames into
// named physical signal values and back, driven by a schema file.
//
// A schema is YAML in the shape of a DBC database:
//
//	version: 1
//	messages:
//	  - id: 0x100
//	    name: LIGHT_CONTROL
//	    length: 8
//	    signals:
//	      - {name: headLamp, start_bit: 0, length: 1}
//	      - {name: lightLevel, start_bit: 8, length: 8, unit: "%", maximum: 100}
//
// [Parse] validates the whole document up front (identifier ranges,
// duplicate names, signals that overflow their message or overlap each
// other) and returns an immutable [Database]. Decoding never mutates
// the schema, so one Database is shared by every goroutine.
//
// Values outside a signal's configured range are reported with
// SignalValue.OutOfRange set rather than dropped. Encoding rounds to
// the nearest raw integer and rejects values that do not fit the
// signal's bit width.
package signaldb
