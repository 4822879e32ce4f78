// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sdv-zonal/canbridge/lib/canframe"
)

// Stats holds the relay's ingress counters. The zero value is ready to
// use. One Stats is shared by every ingress connection.
type Stats struct {
	connectionsTotal   atomic.Uint64
	connectionsActive  atomic.Int64
	framesReceived     atomic.Uint64
	bytesReceived      atomic.Uint64
	protocolViolations atomic.Uint64

	mu   sync.Mutex
	byID map[uint32]uint64
}

// IDCount is the number of frames seen for one identifier.
type IDCount struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
	Count   uint64 `json:"count"`
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	ConnectionsTotal   uint64    `json:"connections_total"`
	ConnectionsActive  int64     `json:"connections_active"`
	FramesReceived     uint64    `json:"frames_received"`
	BytesReceived      uint64    `json:"bytes_received"`
	ProtocolViolations uint64    `json:"protocol_violations"`
	ByID               []IDCount `json:"by_id"`
}

func (s *Stats) connectionOpened() {
	s.connectionsTotal.Add(1)
	s.connectionsActive.Add(1)
}

func (s *Stats) connectionClosed() { s.connectionsActive.Add(-1) }

func (s *Stats) violation() { s.protocolViolations.Add(1) }

func (s *Stats) received(frame canframe.Frame, bytes int) {
	s.framesReceived.Add(1)
	s.bytesReceived.Add(uint64(bytes))

	s.mu.Lock()
	if s.byID == nil {
		s.byID = make(map[uint32]uint64)
	}
	s.byID[frame.ID]++
	s.mu.Unlock()
}

// Snapshot copies the counters. names, when non-nil, labels
// identifiers with their message names.
func (s *Stats) Snapshot(names func(id uint32) string) StatsSnapshot {
	snapshot := StatsSnapshot{
		ConnectionsTotal:   s.connectionsTotal.Load(),
		ConnectionsActive:  s.connectionsActive.Load(),
		FramesReceived:     s.framesReceived.Load(),
		BytesReceived:      s.bytesReceived.Load(),
		ProtocolViolations: s.protocolViolations.Load(),
	}

	s.mu.Lock()
	ids := make([]uint32, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		count := IDCount{ID: canframe.FormatID(id), Count: s.byID[id]}
		if names != nil {
			count.Message = names(id)
		}
		snapshot.ByID = append(snapshot.ByID, count)
	}
	s.mu.Unlock()
	return snapshot
}
