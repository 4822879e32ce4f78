// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorKind classifies a counted processing error.
type ErrorKind string

const (
	KindUnknownMessage ErrorKind = "unknown_message"
	KindTruncatedFrame ErrorKind = "truncated_frame"
	KindTypeMismatch   ErrorKind = "type_mismatch"
	KindPersistence    ErrorKind = "persistence"
	KindTransport      ErrorKind = "transport"
)

// ErrorKinds lists every kind in reporting order.
var ErrorKinds = []ErrorKind{
	KindUnknownMessage,
	KindTruncatedFrame,
	KindTypeMismatch,
	KindPersistence,
	KindTransport,
}

// LastError is the most recent error of one kind.
type LastError struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Stats holds one controller's counters. Counters are atomics so the
// status and metrics readers never contend with the processing loop.
type Stats struct {
	state            atomic.Int32
	subscriptions    atomic.Uint64
	framesReceived   atomic.Uint64
	framesDecoded    atomic.Uint64
	samplesMapped    atomic.Uint64
	samplesPersisted atomic.Uint64
	outOfRange       atomic.Uint64

	mu         sync.Mutex
	errors     map[ErrorKind]uint64
	lastErrors map[ErrorKind]LastError
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	State            State                   `json:"state"`
	Subscriptions    uint64                  `json:"subscriptions"`
	FramesReceived   uint64                  `json:"frames_received"`
	FramesDecoded    uint64                  `json:"frames_decoded"`
	SamplesMapped    uint64                  `json:"samples_mapped"`
	SamplesPersisted uint64                  `json:"samples_persisted"`
	OutOfRange       uint64                  `json:"out_of_range"`
	Errors           map[ErrorKind]uint64    `json:"errors"`
	LastErrors       map[ErrorKind]LastError `json:"last_errors,omitempty"`
}

// State returns the controller state.
func (s *Stats) State() State { return State(s.state.Load()) }

func (s *Stats) setState(state State) { s.state.Store(int32(state)) }

func (s *Stats) recordError(kind ErrorKind, err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errors == nil {
		s.errors = make(map[ErrorKind]uint64)
		s.lastErrors = make(map[ErrorKind]LastError)
	}
	s.errors[kind]++
	s.lastErrors[kind] = LastError{Time: now, Message: err.Error()}
}

// Errors returns the count for one kind.
func (s *Stats) Errors(kind ErrorKind) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors[kind]
}

// Snapshot copies every counter. Errors always has an entry per kind.
func (s *Stats) Snapshot() Snapshot {
	snapshot := Snapshot{
		State:            s.State(),
		Subscriptions:    s.subscriptions.Load(),
		FramesReceived:   s.framesReceived.Load(),
		FramesDecoded:    s.framesDecoded.Load(),
		SamplesMapped:    s.samplesMapped.Load(),
		SamplesPersisted: s.samplesPersisted.Load(),
		OutOfRange:       s.outOfRange.Load(),
		Errors:           make(map[ErrorKind]uint64, len(ErrorKinds)),
	}

	s.mu.Lock()
	for _, kind := range ErrorKinds {
		snapshot.Errors[kind] = s.errors[kind]
	}
	if len(s.lastErrors) > 0 {
		snapshot.LastErrors = maps.Clone(s.lastErrors)
	}
	s.mu.Unlock()
	return snapshot
}
