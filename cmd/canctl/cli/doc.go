// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command tree behind canctl: subcommand dispatch,
// pflag parsing with "did you mean" suggestions, and help rendering.
package cli
