// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vss maps decoded signals onto Vehicle Signal Specification
// paths.
//
// A [Table] is loaded once from a YAML or JSONC file keyed by frame
// identifier and signal name. Each entry names the canonical path,
// the VSS data type, and an optional linear conversion applied before
// the value is coerced to that type. Signals without an entry produce
// no sample and no error.
package vss
