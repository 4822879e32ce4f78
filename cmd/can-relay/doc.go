// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Can-relay accepts CAN frames from producers over TCP, writes them to
// a local CAN interface, and republishes them to any number of
// subscribers.
//
// Data flow:
//
//	producer → ingress (:8888) → bus writer → CAN interface
//	                           ↘ hub → publisher (:5555) → subscribers
//
// Producers send a CBOR sequence of wire frames. A record that fails
// to decode or validate is a protocol violation and closes only that
// producer's connection. Each subscriber has its own bounded queue;
// when it is full the newest frame is dropped for that subscriber
// alone, so a slow subscriber never stalls ingest. Subscribers
// receive only frames published after they connect.
//
// With --bus-listen, frames other nodes put on the CAN interface are
// republished to subscribers too.
//
// Counters are logged every --stats-interval and once more at exit,
// exposed on --metrics-address as Prometheus metrics, and returned by
// the "status" action on --status-socket. Every flag may also be set
// in the relay section of the configuration file; flags win.
package main
