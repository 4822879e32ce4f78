// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the binary entrypoint convention:
//
//	func main() {
//	    if err := run(); err != nil {
//	        process.Fatal(err)
//	    }
//	}
//
// and Group, which daemons use to run their serve loops until a signal
// or the first failure.
package process
