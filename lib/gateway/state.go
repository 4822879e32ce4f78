// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import "fmt"

// State is the controller lifecycle position.
//
//	Idle -> Subscribing -> Running -> Draining -> Stopped
//	            ^             |
//	            +-------------+  subscription lost
type State int32

const (
	StateIdle State = iota
	StateSubscribing
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText encodes the state by name in status output.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
