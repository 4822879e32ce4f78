// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists raw frames and mapped samples in an embedded
// SQLite database.
//
// Two append-only tables hold the data: frames (every frame the
// gateway received, decodable or not) and samples (every value mapped
// onto a VSS path). Timestamps are stored as Unix nanoseconds; query
// results are ordered by timestamp with insertion order breaking ties.
//
// Queries return iter.Seq2 iterators that read rows while the caller
// ranges over them:
//
//	for record, err := range st.QuerySamples(ctx, store.SampleFilter{PathPrefix: "Vehicle.Body"}) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(record.Sample.Path, record.Sample.Value)
//	}
//
// The store does not enforce retention.
package store
