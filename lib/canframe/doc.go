// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package canframe defines the bus frame value shared by every stage
// of the gateway, and its CBOR wire record.
//
// A [Frame] carries an 11-bit or 29-bit identifier, a DLC of 0 to 8,
// and the payload in a fixed array. [WireFrame] is the record
// producers write into the relay and the relay republishes to
// subscribers.
package canframe
