// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesNestedSubcommands(t *testing.T) {
	var called string
	var received []string

	root := &Command{
		Name: "canctl",
		Subcommands: []*Command{
			{Name: "status", Run: func(context.Context, []string) error {
				called = "status"
				return nil
			}},
			{Name: "query", Subcommands: []*Command{
				{Name: "frames", Run: func(_ context.Context, args []string) error {
					called = "query frames"
					received = args
					return nil
				}},
			}},
		},
	}

	if err := root.Execute(context.Background(), []string{"query", "frames", "extra"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "query frames" {
		t.Errorf("dispatched to %q, want query frames", called)
	}
	if len(received) != 1 || received[0] != "extra" {
		t.Errorf("args = %v, want [extra]", received)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var database string
	var limit int

	command := &Command{
		Name: "frames",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("frames", pflag.ContinueOnError)
			flagSet.StringVar(&database, "database", "canbridge.db", "store path")
			flagSet.IntVar(&limit, "limit", 0, "maximum rows")
			return flagSet
		},
		Run: func(context.Context, []string) error { return nil },
	}

	if err := command.Execute(context.Background(), []string{"--database", "/tmp/x.db", "--limit=5"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if database != "/tmp/x.db" || limit != 5 {
		t.Errorf("database = %q, limit = %d", database, limit)
	}
}

func TestExecuteSuggestsFlag(t *testing.T) {
	command := &Command{
		Name: "export",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export", pflag.ContinueOnError)
			flagSet.String("compression", "zstd", "compression")
			flagSet.String("output", "", "archive path")
			return flagSet
		},
		Run: func(context.Context, []string) error { return nil },
	}

	err := command.Execute(context.Background(), []string{"--compresion", "lz4"})
	if err == nil {
		t.Fatal("Execute accepted an unknown flag")
	}
	if !strings.Contains(err.Error(), "did you mean --compression") || !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q", err)
	}
}

func TestExecuteSuggestsCommand(t *testing.T) {
	root := &Command{
		Name:        "canctl",
		Subcommands: []*Command{{Name: "export"}, {Name: "status"}},
	}
	err := root.Execute(context.Background(), []string{"statsu"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "status"`) {
		t.Errorf("error = %v, want suggestion for status", err)
	}

	err = root.Execute(context.Background(), []string{"frobnicate"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion", err)
	}
}

func TestHelpAndMissingSubcommand(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:       "canctl",
		Summary:    "Inspect and drive a CAN signal gateway.",
		HelpOutput: &help,
		Subcommands: []*Command{
			{Name: "send", Summary: "Send frames to a relay"},
			{Name: "query", Summary: "Read the store"},
		},
		Examples: []Example{{Description: "Show relay status", Command: "canctl status --socket /run/relay.sock"}},
	}

	if err := root.Execute(context.Background(), []string{"--help"}); err != nil {
		t.Fatalf("Execute(--help): %v", err)
	}
	output := help.String()
	for _, want := range []string{"Inspect and drive", "canctl <command> [flags]", "send", "Read the store", "# Show relay status"} {
		if !strings.Contains(output, want) {
			t.Errorf("help missing %q:\n%s", want, output)
		}
	}

	help.Reset()
	if err := root.Execute(context.Background(), nil); err == nil {
		t.Error("Execute without a subcommand succeeded")
	}
	if !strings.Contains(help.String(), "Commands:") {
		t.Error("help not printed for missing subcommand")
	}
}

func TestSubcommandHelpUsesRootOutput(t *testing.T) {
	var help bytes.Buffer
	var limit int
	root := &Command{
		Name:       "canctl",
		HelpOutput: &help,
		Subcommands: []*Command{{
			Name:    "frames",
			Summary: "List stored frames",
			Flags: func() *pflag.FlagSet {
				flagSet := pflag.NewFlagSet("frames", pflag.ContinueOnError)
				flagSet.IntVar(&limit, "limit", 0, "maximum rows")
				return flagSet
			},
			Run: func(context.Context, []string) error { return nil },
		}},
	}
	if err := root.Execute(context.Background(), []string{"frames", "--help"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(help.String(), "canctl frames [flags]") || !strings.Contains(help.String(), "--limit") {
		t.Errorf("help = %q", help.String())
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"status", "status", 0},
		{"statsu", "status", 2},
		{"export", "exprot", 2},
		{"query", "quer", 1},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
		if got := levenshtein(test.b, test.a); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d (symmetric)", test.b, test.a, got, test.want)
		}
	}
}
