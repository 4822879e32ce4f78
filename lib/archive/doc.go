// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive exports persisted frames and samples as a single
// portable file.
//
// An archive is a six byte preamble ("CANA", format version,
// compression) followed by a compressed CBOR sequence: a header item,
// one item per record, and an end item holding the record counts and
// a BLAKE3 digest of everything before it. Readers reject archives
// whose end item is missing or disagrees with what they read, so a
// truncated copy is detected rather than silently short.
package archive
