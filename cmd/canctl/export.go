// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/sdv-zonal/canbridge/cmd/canctl/cli"
	"github.com/sdv-zonal/canbridge/lib/archive"
	"github.com/sdv-zonal/canbridge/lib/canframe"
)

func exportCommand(out, errOut io.Writer) *cli.Command {
	var (
		databasePath string
		outputPath   string
		compression  string
		id           string
		prefix       string
		framesOnly   bool
		samplesOnly  bool
		window       rangeFlags
	)
	return &cli.Command{
		Name:    "export",
		Summary: "Write stored records to a compressed archive",
		Description: `Export frames and samples from the gateway store into a single
archive file: a compressed CBOR sequence ending in a BLAKE3 digest, so
a truncated or altered copy is detected when read back with
"canctl read".`,
		Usage: "canctl export --output FILE [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
			flagSet.StringVar(&databasePath, "database", "canbridge.db", "store path")
			flagSet.StringVarP(&outputPath, "output", "o", "", `archive path, "-" for stdout (required)`)
			flagSet.StringVar(&compression, "compression", "zstd", "none, lz4, or zstd")
			flagSet.StringVar(&id, "id", "", "only frames with this identifier")
			flagSet.StringVar(&prefix, "prefix", "", "only samples at or below this VSS branch")
			flagSet.BoolVar(&framesOnly, "frames-only", false, "leave samples out")
			flagSet.BoolVar(&samplesOnly, "samples-only", false, "leave frames out")
			window.register(flagSet, false)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if outputPath == "" {
				return errors.New("--output is required")
			}
			if framesOnly && samplesOnly {
				return errors.New("--frames-only and --samples-only are exclusive")
			}

			options := archive.ExportOptions{
				SkipFrames:  samplesOnly,
				SkipSamples: framesOnly,
			}
			var err error
			if options.Compression, err = archive.ParseCompression(compression); err != nil {
				return err
			}
			start, end, err := window.bounds(time.Now())
			if err != nil {
				return err
			}
			options.Frames.Start, options.Frames.End = start, end
			options.Samples.Start, options.Samples.End = start, end
			options.Samples.PathPrefix = prefix
			if id != "" {
				if options.Frames.ID, err = canframe.ParseID(id); err != nil {
					return err
				}
				options.Frames.HasID = true
			}

			st, err := openExistingStore(databasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			destination := out
			if outputPath != "-" {
				file, err := os.Create(outputPath)
				if err != nil {
					return err
				}
				defer file.Close()
				destination = file
			}

			summary, err := archive.Export(ctx, st, destination, options)
			if err != nil {
				if outputPath != "-" {
					os.Remove(outputPath)
				}
				return err
			}
			if file, ok := destination.(*os.File); ok && outputPath != "-" {
				if err := file.Sync(); err != nil {
					return err
				}
			}
			fmt.Fprintf(errOut, "exported %d frames and %d samples to %s (%s)\n",
				summary.Frames, summary.Samples, outputPath, options.Compression)
			return nil
		},
	}
}
