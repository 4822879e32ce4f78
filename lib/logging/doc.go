// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog logger every binary starts with:
// text on a terminal, JSON otherwise, optionally mirrored to a JSON
// log file at debug level.
package logging
