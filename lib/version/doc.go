// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the relay,
// gateway, and canctl binaries. Values are injected with -ldflags:
//
//	go build -ldflags "-X github.com/sdv-zonal/canbridge/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
