// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/sdv-zonal/canbridge/cmd/canctl/cli"
	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/store"
)

// rangeFlags are the time and size bounds shared by query and export.
type rangeFlags struct {
	since string
	until string
	limit int
}

func (r *rangeFlags) register(flagSet *pflag.FlagSet, withLimit bool) {
	flagSet.StringVar(&r.since, "since", "", "earliest timestamp, RFC 3339 or a duration ago such as 10m")
	flagSet.StringVar(&r.until, "until", "", "latest timestamp, RFC 3339 or a duration ago")
	if withLimit {
		flagSet.IntVar(&r.limit, "limit", 0, "maximum records (0 for all)")
	}
}

func (r *rangeFlags) bounds(now time.Time) (start, end time.Time, err error) {
	if start, err = parseTimeBound(r.since, now); err != nil {
		return
	}
	end, err = parseTimeBound(r.until, now)
	return
}

func queryCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "query",
		Summary: "Read frames, signals, or samples from a gateway store",
		Description: `Read records from the gateway's SQLite store in timestamp order.
The store may be queried while the gateway is writing to it.`,
		Subcommands: []*cli.Command{
			queryFramesCommand(out),
			querySignalsCommand(out),
			querySamplesCommand(out),
		},
	}
}

func queryFramesCommand(out io.Writer) *cli.Command {
	var (
		databasePath string
		id           string
		schemaPath   string
		window       rangeFlags
		outputJSON   bool
	)
	return &cli.Command{
		Name:    "frames",
		Summary: "List stored raw frames",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("frames", pflag.ContinueOnError)
			flagSet.StringVar(&databasePath, "database", "canbridge.db", "store path")
			flagSet.StringVar(&id, "id", "", "only this identifier")
			flagSet.StringVar(&schemaPath, "schema", "", "decode frames with this signal schema")
			window.register(flagSet, true)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			filter := store.FrameFilter{Limit: window.limit}
			var err error
			if filter.Start, filter.End, err = window.bounds(time.Now()); err != nil {
				return err
			}
			if id != "" {
				if filter.ID, err = canframe.ParseID(id); err != nil {
					return err
				}
				filter.HasID = true
			}
			database, err := loadOptionalSchema(schemaPath)
			if err != nil {
				return err
			}

			st, err := openExistingStore(databasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			var rows []frameRow
			table := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
			if !outputJSON {
				fmt.Fprintln(table, "TIMESTAMP\tFRAME\tMESSAGE\tSOURCE\tSIGNALS")
			}
			for record, err := range st.QueryFrames(ctx, filter) {
				if err != nil {
					return err
				}
				if outputJSON {
					rows = append(rows, newFrameRow(record.Seq, record.Frame, record.Message))
					continue
				}
				signals := ""
				if database != nil {
					if decoded, err := database.Decode(record.Frame); err == nil {
						signals = formatSignals(decoded)
					}
				}
				fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\n",
					record.Frame.Timestamp.Format(timestampLayout), record.Frame, record.Message, record.Frame.Source, signals)
			}
			if outputJSON {
				return cli.WriteJSON(out, rows)
			}
			return table.Flush()
		},
	}
}

func querySignalsCommand(out io.Writer) *cli.Command {
	var (
		databasePath string
		id           string
		name         string
		frameSeq     int64
		window       rangeFlags
		outputJSON   bool
	)
	return &cli.Command{
		Name:    "signals",
		Summary: "List stored decoded signal values",
		Description: `List the physical values decoded from stored frames, including
signals that have no VSS mapping. --frame selects the signals of one
stored frame by its sequence number.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("signals", pflag.ContinueOnError)
			flagSet.StringVar(&databasePath, "database", "canbridge.db", "store path")
			flagSet.StringVar(&id, "id", "", "only this message identifier")
			flagSet.StringVar(&name, "name", "", "only this signal")
			flagSet.Int64Var(&frameSeq, "frame", 0, "only signals of this frame sequence number")
			window.register(flagSet, true)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			filter := store.SignalFilter{Name: name, FrameSeq: frameSeq, Limit: window.limit}
			var err error
			if filter.Start, filter.End, err = window.bounds(time.Now()); err != nil {
				return err
			}
			if id != "" {
				if filter.MessageID, err = canframe.ParseID(id); err != nil {
					return err
				}
				filter.HasID = true
			}

			st, err := openExistingStore(databasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			var rows []signalRow
			table := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
			if !outputJSON {
				fmt.Fprintln(table, "TIMESTAMP\tMESSAGE\tSIGNAL\tVALUE\tRAW")
			}
			for record, err := range st.QuerySignals(ctx, filter) {
				if err != nil {
					return err
				}
				if outputJSON {
					rows = append(rows, newSignalRow(record))
					continue
				}
				value := strconv.FormatFloat(record.Value.Physical, 'g', -1, 64)
				if record.Value.Unit != "" {
					value += " " + record.Value.Unit
				}
				if record.Value.OutOfRange {
					value += " (out of range)"
				}
				fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%d\n",
					record.Timestamp.Format(timestampLayout), record.Message, record.Value.Name, value, record.Value.Raw)
			}
			if outputJSON {
				return cli.WriteJSON(out, rows)
			}
			return table.Flush()
		},
	}
}

func querySamplesCommand(out io.Writer) *cli.Command {
	var (
		databasePath string
		path         string
		prefix       string
		window       rangeFlags
		outputJSON   bool
	)
	return &cli.Command{
		Name:    "samples",
		Summary: "List stored VSS samples",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("samples", pflag.ContinueOnError)
			flagSet.StringVar(&databasePath, "database", "canbridge.db", "store path")
			flagSet.StringVar(&path, "path", "", "only this VSS path")
			flagSet.StringVar(&prefix, "prefix", "", "only paths at or below this branch, e.g. Vehicle.Body")
			window.register(flagSet, true)
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			filter := store.SampleFilter{Path: path, PathPrefix: prefix, Limit: window.limit}
			var err error
			if filter.Start, filter.End, err = window.bounds(time.Now()); err != nil {
				return err
			}

			st, err := openExistingStore(databasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			var rows []sampleRow
			table := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
			if !outputJSON {
				fmt.Fprintln(table, "TIMESTAMP\tPATH\tVALUE\tSOURCE")
			}
			for record, err := range st.QuerySamples(ctx, filter) {
				if err != nil {
					return err
				}
				if outputJSON {
					rows = append(rows, newSampleRow(record))
					continue
				}
				sample := record.Sample
				value := sample.Value.String()
				if sample.Unit != "" {
					value += " " + sample.Unit
				}
				fmt.Fprintf(table, "%s\t%s\t%s\t%s/%s\n",
					sample.Timestamp.Format(timestampLayout), sample.Path, value,
					canframe.FormatID(sample.MessageID), sample.Signal)
			}
			if outputJSON {
				return cli.WriteJSON(out, rows)
			}
			return table.Flush()
		},
	}
}
