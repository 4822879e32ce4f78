// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package canbus is the relay's local bus output.
//
// [Open] selects an implementation by interface name: a SocketCAN raw
// socket (through github.com/brutella/can) for kernel interfaces such
// as vcan0, the in-process [Memory] bus, or none at all. A [Writer]
// decouples the relay's ingest goroutines from bus latency with a
// bounded queue that drops the newest frame when full.
package canbus
