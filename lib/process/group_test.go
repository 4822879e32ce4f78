// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sdv-zonal/canbridge/lib/testutil"
)

func TestGroupStopsOnFirstFailure(t *testing.T) {
	group := NewGroup(context.Background())
	failure := errors.New("port in use")

	stopped := make(chan struct{})
	group.Go("publisher", func(ctx context.Context) error {
		<-ctx.Done()
		close(stopped)
		return nil
	})
	group.Go("ingress", func(context.Context) error { return failure })

	err := group.Wait()
	if !errors.Is(err, failure) || !strings.HasPrefix(err.Error(), "ingress: ") {
		t.Fatalf("Wait() = %v, want ingress failure", err)
	}
	testutil.RequireClosed(t, stopped, 5*time.Second, "sibling loop not cancelled")
}

func TestGroupStopsWithParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	group := NewGroup(ctx)
	for _, name := range []string{"ingress", "publisher", "metrics"} {
		group.Go(name, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	}
	cancel()
	if err := group.Wait(); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}
