// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/clock"
	"github.com/sdv-zonal/canbridge/lib/config"
	"github.com/sdv-zonal/canbridge/lib/gateway"
	"github.com/sdv-zonal/canbridge/lib/relay"
	"github.com/sdv-zonal/canbridge/lib/signaldb"
	"github.com/sdv-zonal/canbridge/lib/store"
	"github.com/sdv-zonal/canbridge/lib/testutil"
	"github.com/sdv-zonal/canbridge/lib/vss"
)

const testTimeout = 5 * time.Second

func TestParseSubscriptions(t *testing.T) {
	subscriptions, err := parseSubscriptions(nil)
	if err != nil {
		t.Fatalf("parseSubscriptions(nil): %v", err)
	}
	if len(subscriptions) != 1 || subscriptions[0].name != defaultSubscription || subscriptions[0].ids != nil {
		t.Errorf("default subscriptions = %+v", subscriptions)
	}

	subscriptions, err = parseSubscriptions([]config.SubscriptionConfig{
		{Name: "body", IDs: []string{"0x100", "257"}},
		{Name: "everything"},
	})
	if err != nil {
		t.Fatalf("parseSubscriptions: %v", err)
	}
	want := []subscription{
		{name: "body", ids: []uint32{0x100, 0x101}},
		{name: "everything", ids: []uint32{}},
	}
	if !reflect.DeepEqual(subscriptions, want) {
		t.Errorf("subscriptions = %+v, want %+v", subscriptions, want)
	}

	if _, err := parseSubscriptions([]config.SubscriptionConfig{{Name: "bad", IDs: []string{"lamp"}}}); err == nil {
		t.Error("non-numeric identifier accepted")
	}
}

// TestGatewayOverRelay runs a controller against a real publisher and
// checks that only subscribed identifiers reach the store.
func TestGatewayOverRelay(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	hub := relay.NewHub(64)
	publisher := relay.NewPublisher(relay.PublisherConfig{Listener: listener, Hub: hub})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	publisherDone := make(chan struct{})
	go func() {
		publisher.Serve(ctx)
		close(publisherDone)
	}()

	database, err := signaldb.Load(filepath.Join("..", "..", "lib", "signaldb", "testdata", "lights.yaml"))
	if err != nil {
		t.Fatalf("signaldb.Load: %v", err)
	}
	mapping, err := vss.LoadTable(filepath.Join("..", "..", "lib", "vss", "testdata", "lights.yaml"))
	if err != nil {
		t.Fatalf("vss.LoadTable: %v", err)
	}
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "gateway.db")})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	cfg := config.Default().Gateway
	cfg.Subscriptions = []config.SubscriptionConfig{{Name: "lights", IDs: []string{"0x100"}}}
	controllers, err := buildControllers(cfg, controllerDependencies{
		database: database,
		mapping:  mapping,
		store:    st,
		clock:    clock.Real(),
	}, func(entry subscription) gateway.Source {
		return relaySource(listener.Addr().String(), entry.name, entry.ids)
	})
	if err != nil {
		t.Fatalf("buildControllers: %v", err)
	}
	if len(controllers) != 1 || controllers[0].Name() != "lights" {
		t.Fatalf("controllers = %v", controllers)
	}
	controller := controllers[0]

	runDone := make(chan error, 1)
	go func() { runDone <- controller.Run(ctx) }()
	testutil.Eventually(t, testTimeout, func() bool {
		return controller.State() == gateway.StateRunning && hub.Stats().Subscribers == 1
	}, "controller subscribed")

	epoch := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	doors, _ := canframe.New(0x101, false, epoch, []byte{0x01, 0x50})
	lights, _ := canframe.New(0x100, false, epoch.Add(time.Millisecond), []byte{0x01, 0x32, 0, 0, 0, 0, 0, 0})
	hub.Publish(doors)
	hub.Publish(lights)

	testutil.Eventually(t, testTimeout, func() bool {
		return controller.Stats().Snapshot().FramesDecoded == 1
	}, "lights frame decoded")

	cancel()
	if err := testutil.RequireReceive(t, runDone, testTimeout, "controller did not stop"); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	testutil.RequireClosed(t, publisherDone, testTimeout, "publisher did not stop")

	counts, err := st.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Frames != 1 {
		t.Errorf("stored %d frames, want only the subscribed 0x100", counts.Frames)
	}
	if counts.Samples == 0 {
		t.Error("no samples stored for the lights frame")
	}
}
