// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes relay, gateway and store counters in the
// Prometheus format. Collectors read the components' own statistics
// at scrape time; nothing is double counted.
package metrics
