// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay moves CAN frames from producers to subscribers.
//
// Producers connect to an [Ingress] over TCP and write a stream of
// [canframe.WireFrame] records. Each validated frame goes through
// [Relay.Dispatch] to the local bus writer and to the [Hub], which fans
// it out to every subscriber without blocking. A record that fails to
// decode or validate is an [ErrProtocolViolation]: that producer's
// connection is closed and the rest carry on.
//
// Subscribers are either in-process ([Hub.Subscribe]) or remote through
// a [Publisher], which streams [StreamMessage] records after an ack.
// [Dial] is the remote client. [Producer] is the sending client, with
// bounded reconnect attempts.
//
// The hub keeps no history. A subscriber whose queue is full loses the
// newest frames, counted per subscriber and in total.
package relay
