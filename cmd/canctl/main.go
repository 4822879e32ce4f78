// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sdv-zonal/canbridge/cmd/canctl/cli"
	"github.com/sdv-zonal/canbridge/lib/process"
	"github.com/sdv-zonal/canbridge/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return root(os.Stdout, os.Stderr).Execute(ctx, os.Args[1:])
}

// root builds the command tree. Results go to out; progress and
// summaries that must not mix with piped output go to errOut.
func root(out, errOut io.Writer) *cli.Command {
	return &cli.Command{
		Name:        "canctl",
		Summary:     "Drive and inspect a CAN signal gateway",
		Description: "canctl sends frames to a relay, watches its subscriber stream, queries\nthe gateway's store, exports archives, and reads daemon status.",
		HelpOutput:  errOut,
		Subcommands: []*cli.Command{
			sendCommand(out),
			watchCommand(out, errOut),
			statusCommand(out),
			queryCommand(out),
			exportCommand(out, errOut),
			readCommand(out),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(context.Context, []string) error {
					fmt.Fprintln(out, version.Banner("canctl"))
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{Description: "Turn on the head lamp", Command: "canctl send --schema lights.yaml --message LIGHT_CONTROL --signal headLamp=1"},
			{Description: "Last ten samples under Vehicle.Body", Command: "canctl query samples --prefix Vehicle.Body --limit 10"},
			{Description: "Out-of-range checks on one signal", Command: "canctl query signals --name lightLevel --since 1h"},
		},
	}
}
