// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireNoReceive], and [RequireClosed] wrap the
// select-with-timeout pattern so tests never block forever on a
// channel. [Eventually] polls state that has no channel. [SocketDir]
// returns a directory short enough for Unix socket paths.
//
// Helpers call t.Fatalf on failure; test setup failures are not
// recoverable.
package testutil
