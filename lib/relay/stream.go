// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import "github.com/sdv-zonal/canbridge/lib/canframe"

// Message types on the subscriber stream.
const (
	MessageAck       = "ack"
	MessageFrame     = "frame"
	MessageHeartbeat = "heartbeat"
)

// SubscribeRequest is the first record a subscriber sends after
// connecting to the publisher.
type SubscribeRequest struct {
	// Client names the subscriber, for logs only.
	Client string `cbor:"client,omitempty"`

	// IDs restricts the stream to these identifiers. Empty means all.
	IDs []uint32 `cbor:"ids,omitempty"`
}

// StreamMessage is one record on the subscriber stream. The first
// message is always an ack; the publisher registers the hub
// subscription before sending it, so every frame published after the
// ack arrives is delivered (subject to the drop-newest policy).
type StreamMessage struct {
	Type string `cbor:"type"`

	// OK and Error are set on the ack.
	OK    bool   `cbor:"ok,omitempty"`
	Error string `cbor:"error,omitempty"`

	// HeartbeatMillis is the publisher's heartbeat interval, set on the
	// ack. Subscribers treat a silence of several intervals as a dead
	// connection.
	HeartbeatMillis int64 `cbor:"heartbeat_ms,omitempty"`

	// Frame is set on frame messages.
	Frame *canframe.WireFrame `cbor:"frame,omitempty"`

	// Dropped is set on heartbeats: the number of frames this
	// subscriber has lost to a full queue since it subscribed.
	Dropped uint64 `cbor:"dropped,omitempty"`
}
