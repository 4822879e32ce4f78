// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that wait (reconnect backoff, heartbeats, statistics
// intervals) take a Clock instead of calling the time package. Binaries
// pass Real(); tests pass Fake() and drive time with Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go controller.Run(ctx)
//	fake.WaitForTimers(1)       // the controller is now backing off
//	fake.Advance(time.Second)   // fire the backoff timer
package clock
