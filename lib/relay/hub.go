// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sdv-zonal/canbridge/lib/canframe"
)

// DefaultSubscriberBuffer is the per-subscriber queue capacity when
// none is configured.
const DefaultSubscriberBuffer = 1024

// Hub fans frames out to subscribers. Publish never blocks: each
// subscriber has a bounded queue, and a frame that does not fit is
// dropped for that subscriber only (drop newest). A subscriber sees
// frames published after Subscribe returns and nothing before.
type Hub struct {
	bufferSize int

	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub returns a hub whose subscriptions buffer bufferSize frames.
// bufferSize <= 0 selects DefaultSubscriberBuffer.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Hub{
		bufferSize:  bufferSize,
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Subscription is one subscriber's view of the hub.
type Subscription struct {
	hub    *Hub
	frames chan canframe.Frame
	filter func(canframe.Frame) bool

	dropped   atomic.Uint64
	closeOnce sync.Once
}

// Subscribe registers a subscriber for every frame.
func (h *Hub) Subscribe() *Subscription {
	return h.SubscribeFiltered(nil)
}

// SubscribeFiltered registers a subscriber for frames accepted by
// filter. A nil filter accepts every frame. The filter runs on the
// publishing goroutine and must be cheap.
func (h *Hub) SubscribeFiltered(filter func(canframe.Frame) bool) *Subscription {
	subscription := &Subscription{
		hub:    h,
		frames: make(chan canframe.Frame, h.bufferSize),
		filter: filter,
	}
	h.mu.Lock()
	h.subscribers[subscription] = struct{}{}
	h.mu.Unlock()
	return subscription
}

// Publish delivers frame to every current subscriber without
// blocking and returns how many accepted it. Safe for concurrent use;
// a subscription registered concurrently either receives the frame or
// does not, never a partial state.
func (h *Hub) Publish(frame canframe.Frame) int {
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for subscription := range h.subscribers {
		if subscription.filter != nil && !subscription.filter(frame) {
			continue
		}
		select {
		case subscription.frames <- frame:
			delivered++
		default:
			subscription.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
	return delivered
}

// HubStats is a point-in-time copy of the hub counters.
type HubStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Stats returns the current counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	subscribers := len(h.subscribers)
	h.mu.RUnlock()
	return HubStats{
		Subscribers: subscribers,
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Frames returns the delivery channel. It is closed by Close.
func (s *Subscription) Frames() <-chan canframe.Frame { return s.frames }

// Dropped returns how many frames this subscriber missed because its
// queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// ErrSubscriptionClosed is returned by Receive once a closed
// subscription has been drained.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Receive waits for the next frame.
func (s *Subscription) Receive(ctx context.Context) (canframe.Frame, error) {
	select {
	case frame, ok := <-s.frames:
		if !ok {
			return canframe.Frame{}, ErrSubscriptionClosed
		}
		return frame, nil
	case <-ctx.Done():
		return canframe.Frame{}, ctx.Err()
	}
}

// Close unregisters the subscription and closes its channel. Frames
// already queued can still be drained. Idempotent.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subscribers, s)
		s.hub.mu.Unlock()
		// Publish holds the read lock while sending, so after the
		// delete no sender can still reach this channel.
		close(s.frames)
	})
	return nil
}

// IDFilter returns a filter accepting only the listed identifiers.
// An empty list accepts everything.
func IDFilter(ids []uint32) func(canframe.Frame) bool {
	if len(ids) == 0 {
		return nil
	}
	allowed := slices.Clone(ids)
	slices.Sort(allowed)
	return func(frame canframe.Frame) bool {
		_, found := slices.BinarySearch(allowed, frame.ID)
		return found
	}
}
