// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway turns a stream of raw CAN frames into persisted
// vehicle signal samples.
//
// A [Controller] subscribes to a [Source] (the relay publisher through
// relay.Dial, or an in-process hub subscription) and, for every frame:
// appends the raw record to the store, decodes it against the signal
// database, maps the decoded signals onto VSS paths, and appends the
// resulting samples in one transaction. Frames whose identifier is not
// in the database are still stored raw.
//
// Decode and mapping problems are counted per [ErrorKind] and never
// stop the controller. A lost subscription sends it back to
// subscribing with exponential backoff. Only a run of consecutive
// store failures is fatal: [Controller.Run] returns
// [ErrPersistenceUnavailable].
package gateway
