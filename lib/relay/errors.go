// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import "errors"

// ErrProtocolViolation marks an ingress record that could not be
// decoded or failed frame validation. The offending connection is
// closed; other connections are unaffected.
var ErrProtocolViolation = errors.New("protocol violation")

// ErrRecordTooLarge is wrapped by ErrProtocolViolation when a single
// record exceeds the configured size limit.
var ErrRecordTooLarge = errors.New("record exceeds size limit")

// ErrStreamRejected is returned by Dial when the publisher answers the
// subscribe request with a negative acknowledgement.
var ErrStreamRejected = errors.New("stream rejected")

// ErrProducerClosed is returned by Producer.Send after Close.
var ErrProducerClosed = errors.New("producer closed")
