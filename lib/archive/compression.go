// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the stream compression of an archive body.
// The value is written into the archive preamble, so the numbering is
// part of the file format.
type Compression uint8

const (
	// CompressionNone stores the CBOR sequence as is.
	CompressionNone Compression = 0

	// CompressionLZ4 uses the LZ4 frame format. Fastest to write.
	CompressionLZ4 Compression = 1

	// CompressionZstd uses zstd at the default level. Smallest output
	// for long captures.
	CompressionZstd Compression = 2
)

// String returns the name ParseCompression accepts.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression name.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4 or zstd)", name)
	}
}

// nopWriteCloser adapts an uncompressed body to io.WriteCloser
// without closing the caller's writer.
type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressor wraps w in the compression stream for c. Closing the
// result flushes the stream but never closes w.
func compressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return encoder, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}

// decompressor wraps r in the decompression stream for c. The release
// function frees decoder resources.
func decompressor(r io.Reader, c Compression) (io.Reader, func(), error) {
	switch c {
	case CompressionNone:
		return r, func() {}, nil
	case CompressionLZ4:
		return lz4.NewReader(r), func() {}, nil
	case CompressionZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return decoder, decoder.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression %s", c)
	}
}
