// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the shared CBOR encoding configuration.
//
// CBOR is the format for every internal protocol in the gateway: the
// frame stream from producers into the relay, the subscription stream
// from the relay to gateways, the status socket, and archive exports.
// JSON and YAML appear only in operator-edited files and CLI output.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same logical data always produces identical bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Connections from untrusted peers use NewStreamDecoder, which applies
// structural limits.
//
// # Struct Tag Rules
//
// A `cbor` tag marks a type that is only ever serialized as CBOR. A
// `json` tag marks a type that is also printed as JSON by canctl;
// fxamacker/cbor reads `json` tags when `cbor` tags are absent. Never
// use both tags on the same field.
package codec
