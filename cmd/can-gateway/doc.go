// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Can-gateway subscribes to a relay's publisher, decodes every frame
// against a signal schema, maps the decoded signals onto VSS paths,
// and stores both the raw frames and the mapped samples in SQLite.
//
// Each entry under gateway.subscriptions in the configuration file runs
// its own controller with its own relay connection, restricted to the
// listed identifiers. Without subscriptions one controller receives
// every identifier. All controllers share one store.
//
// A frame whose identifier is not in the schema, or whose payload is
// too short for its message, is still stored raw; only decoding is
// skipped. A lost relay connection is retried with exponential
// backoff. Repeated store failures stop the gateway with a non-zero
// exit.
//
// Counters per controller are exposed on --metrics-address as
// Prometheus metrics and returned by the "status" action on
// --status-socket.
package main
