// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/sdv-zonal/canbridge/cmd/canctl/cli"
	"github.com/sdv-zonal/canbridge/lib/service"
)

func statusCommand(out io.Writer) *cli.Command {
	var (
		socketPath string
		action     string
		outputJSON bool
	)
	return &cli.Command{
		Name:    "status",
		Summary: "Show a relay's or gateway's counters",
		Description: `Query the status socket of can-relay or can-gateway and print the
response. The daemon must have been started with --status-socket.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", "", "daemon status socket (required)")
			flagSet.StringVar(&action, "action", "status", `action to call ("actions" lists them)`)
			flagSet.BoolVar(&outputJSON, "json", false, "print JSON instead of YAML")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if socketPath == "" {
				return errors.New("--socket is required")
			}

			var result any
			if err := service.NewServiceClient(socketPath).Call(ctx, action, nil, &result); err != nil {
				return err
			}
			if outputJSON {
				return cli.WriteJSON(out, result)
			}
			encoder := yaml.NewEncoder(out)
			encoder.SetIndent(2)
			if err := encoder.Encode(result); err != nil {
				return err
			}
			return encoder.Close()
		},
	}
}
