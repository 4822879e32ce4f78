// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/sdv-zonal/canbridge/cmd/canctl/cli"
	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/relay"
)

func watchCommand(out, errOut io.Writer) *cli.Command {
	var (
		address    string
		ids        []string
		schemaPath string
		count      int
		outputJSON bool
	)
	return &cli.Command{
		Name:    "watch",
		Summary: "Print frames from a relay's subscriber stream",
		Description: `Subscribe to a relay and print frames as they arrive, until
interrupted or --count frames have been printed. With --schema each
frame is decoded.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			flagSet.StringVar(&address, "relay", "localhost:5555", "relay publisher address")
			flagSet.StringSliceVar(&ids, "id", nil, "only these identifiers (repeatable or comma separated)")
			flagSet.StringVar(&schemaPath, "schema", "", "decode frames with this signal schema")
			flagSet.IntVar(&count, "count", 0, "stop after this many frames (0 runs until interrupted)")
			flagSet.BoolVar(&outputJSON, "json", false, "print one JSON object per frame")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			database, err := loadOptionalSchema(schemaPath)
			if err != nil {
				return err
			}
			request := relay.SubscribeRequest{Client: "canctl watch"}
			for _, text := range ids {
				id, err := canframe.ParseID(text)
				if err != nil {
					return err
				}
				request.IDs = append(request.IDs, id)
			}

			subscriber, err := relay.Dial(ctx, address, request)
			if err != nil {
				return err
			}
			defer subscriber.Close()

			for received := 0; count == 0 || received < count; received++ {
				frame, err := subscriber.Receive(ctx)
				if err != nil {
					if ctx.Err() != nil {
						break
					}
					if errors.Is(err, io.EOF) {
						return errors.New("relay closed the stream")
					}
					return err
				}
				if outputJSON {
					message := ""
					if database != nil {
						message = database.MessageName(frame.ID)
					}
					if err := cli.WriteJSON(out, newFrameRow(0, frame, message)); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(out, "%s  %-24s %s\n", frame.Timestamp.Format(timestampLayout), frame, describeFrame(database, frame))
			}
			if dropped := subscriber.Dropped(); dropped > 0 {
				fmt.Fprintf(errOut, "relay dropped %d frames for this subscriber\n", dropped)
			}
			return nil
		},
	}
}
