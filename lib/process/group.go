// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"fmt"
)

// Group runs a daemon's long-lived loops. The first loop to fail
// cancels the others; Wait returns once every loop has returned.
type Group struct {
	ctx     context.Context
	cancel  context.CancelFunc
	results chan error
	count   int
}

// NewGroup returns a group whose loops run under a child of ctx.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{ctx: ctx, cancel: cancel, results: make(chan error)}
}

// Go starts fn. A non-nil error is reported by Wait prefixed with
// name. Not safe to call concurrently with Wait.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.count++
	go func() {
		err := fn(g.ctx)
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
		}
		g.results <- err
	}()
}

// Wait blocks until every loop has returned and reports the first
// error. Loops stop when the parent context is done or one of them
// fails.
func (g *Group) Wait() error {
	defer g.cancel()
	var first error
	for range g.count {
		if err := <-g.results; err != nil && first == nil {
			first = err
			g.cancel()
		}
	}
	return first
}
