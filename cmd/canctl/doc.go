// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Canctl is the operator tool for a canbridge deployment.
//
//	canctl send     inject frames into a relay's ingress
//	canctl watch    subscribe to a relay and print frames as they arrive
//	canctl status   query a daemon's status socket
//	canctl query    list stored frames, decoded signals, or VSS samples
//	canctl export   write stored records to a compressed archive
//	canctl read     print and verify an archive
//
// Query and export open the gateway's SQLite store directly; the
// database is in WAL mode, so they can run while the gateway writes.
// Neither creates a store that does not exist.
package main
