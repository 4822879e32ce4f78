// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sdv-zonal/canbridge/lib/store"
)

// ExportOptions selects what Export copies out of a store.
type ExportOptions struct {
	Compression Compression

	// Frames and Samples filter the two record kinds. SkipFrames and
	// SkipSamples leave a kind out entirely.
	Frames      store.FrameFilter
	Samples     store.SampleFilter
	SkipFrames  bool
	SkipSamples bool

	// Created stamps the header. Zero means the current time.
	Created time.Time
}

// Summary reports what an export wrote.
type Summary struct {
	Frames  int64
	Samples int64
}

// Export writes the selected frames, then the selected samples, from
// st to w as one archive. Both kinds are in timestamp order within the
// archive.
func Export(ctx context.Context, st *store.Store, w io.Writer, options ExportOptions) (Summary, error) {
	created := options.Created
	if created.IsZero() {
		created = time.Now()
	}
	writer, err := NewWriter(w, options.Compression, Header{Created: created, Source: st.Path()})
	if err != nil {
		return Summary{}, err
	}

	if !options.SkipFrames {
		for record, err := range st.QueryFrames(ctx, options.Frames) {
			if err != nil {
				return Summary{}, fmt.Errorf("archive: exporting frames: %w", err)
			}
			if err := writer.WriteFrame(record); err != nil {
				return Summary{}, err
			}
		}
	}
	if !options.SkipSamples {
		for record, err := range st.QuerySamples(ctx, options.Samples) {
			if err != nil {
				return Summary{}, fmt.Errorf("archive: exporting samples: %w", err)
			}
			if err := writer.WriteSample(record); err != nil {
				return Summary{}, err
			}
		}
	}

	if err := writer.Close(); err != nil {
		return Summary{}, err
	}
	frames, samples := writer.Counts()
	return Summary{Frames: frames, Samples: samples}, nil
}

// ReadAll reads every record of an archive.
func ReadAll(r io.Reader) (Header, []store.FrameRecord, []store.SampleRecord, error) {
	reader, err := NewReader(r)
	if err != nil {
		return Header{}, nil, nil, err
	}
	defer reader.Close()

	var frames []store.FrameRecord
	var samples []store.SampleRecord
	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return reader.Header(), frames, samples, nil
		}
		if err != nil {
			return Header{}, nil, nil, err
		}
		if entry.Frame != nil {
			frames = append(frames, *entry.Frame)
		} else {
			samples = append(samples, *entry.Sample)
		}
	}
}
