// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/sdv-zonal/canbridge/cmd/canctl/cli"
	"github.com/sdv-zonal/canbridge/lib/archive"
	"github.com/sdv-zonal/canbridge/lib/canframe"
)

func readCommand(out io.Writer) *cli.Command {
	var (
		summaryOnly bool
		outputJSON  bool
	)
	return &cli.Command{
		Name:    "read",
		Summary: "Verify and print an archive written by export",
		Usage:   "canctl read [flags] ARCHIVE",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("read", pflag.ContinueOnError)
			flagSet.BoolVar(&summaryOnly, "summary", false, "verify and print only the header and counts")
			flagSet.BoolVar(&outputJSON, "json", false, "print one JSON object per record")
			return flagSet
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("exactly one archive path is required")
			}
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			reader, err := archive.NewReader(file)
			if err != nil {
				return err
			}
			defer reader.Close()

			header := reader.Header()
			if !outputJSON {
				fmt.Fprintf(out, "# source %s, created %s, %s\n",
					header.Source, header.Created.Format(timestampLayout), reader.Compression())
			}

			var frames, samples int
			for {
				entry, err := reader.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				switch {
				case entry.Frame != nil:
					frames++
					if summaryOnly {
						continue
					}
					record := entry.Frame
					if outputJSON {
						err = cli.WriteJSON(out, newFrameRow(record.Seq, record.Frame, record.Message))
					} else {
						_, err = fmt.Fprintf(out, "frame  %s  %s %s\n",
							record.Frame.Timestamp.Format(timestampLayout), record.Frame, record.Message)
					}
				case entry.Sample != nil:
					samples++
					if summaryOnly {
						continue
					}
					if outputJSON {
						err = cli.WriteJSON(out, newSampleRow(*entry.Sample))
					} else {
						sample := entry.Sample.Sample
						_, err = fmt.Fprintf(out, "sample %s  %s = %s (%s/%s)\n",
							sample.Timestamp.Format(timestampLayout), sample.Path, sample.Value,
							canframe.FormatID(sample.MessageID), sample.Signal)
					}
				}
				if err != nil {
					return err
				}
			}
			if !outputJSON {
				fmt.Fprintf(out, "# %d frames, %d samples, digest verified\n", frames, samples)
			}
			return nil
		},
	}
}
