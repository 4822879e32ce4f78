// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/clock"
	"github.com/sdv-zonal/canbridge/lib/relay"
	"github.com/sdv-zonal/canbridge/lib/signaldb"
	"github.com/sdv-zonal/canbridge/lib/store"
	"github.com/sdv-zonal/canbridge/lib/testutil"
	"github.com/sdv-zonal/canbridge/lib/vss"
)

var testEpoch = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

const testTimeout = 5 * time.Second

func loadDatabase(t *testing.T) *signaldb.Database {
	t.Helper()
	database, err := signaldb.Load(filepath.Join("..", "signaldb", "testdata", "lights.yaml"))
	if err != nil {
		t.Fatalf("signaldb.Load: %v", err)
	}
	return database
}

func loadMapping(t *testing.T) *vss.Table {
	t.Helper()
	table, err := vss.LoadTable(filepath.Join("..", "vss", "testdata", "lights.yaml"))
	if err != nil {
		t.Fatalf("vss.LoadTable: %v", err)
	}
	return table
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "gateway.db")})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func frameAt(t *testing.T, id uint32, offset time.Duration, payload ...byte) canframe.Frame {
	t.Helper()
	frame, err := canframe.New(id, false, testEpoch.Add(offset), payload)
	if err != nil {
		t.Fatalf("canframe.New: %v", err)
	}
	return frame
}

// hubSource subscribes to an in-process hub.
func hubSource(hub *relay.Hub) Source {
	return SourceFunc(func(context.Context) (Subscription, error) {
		return hub.Subscribe(), nil
	})
}

// runController starts Run and returns a cancel function that stops
// it and reports Run's result.
func runController(t *testing.T, controller *Controller) (stop func() error, result <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- controller.Run(ctx) }()
	t.Cleanup(cancel)
	return func() error {
		cancel()
		return testutil.RequireReceive(t, done, testTimeout, "controller stopped")
	}, done
}

func waitForState(t *testing.T, controller *Controller, want State) {
	t.Helper()
	testutil.Eventually(t, testTimeout, func() bool { return controller.State() == want },
		"waiting for state "+want.String())
}

func collectFrames(t *testing.T, st *store.Store) []store.FrameRecord {
	t.Helper()
	var records []store.FrameRecord
	for record, err := range st.QueryFrames(context.Background(), store.FrameFilter{}) {
		if err != nil {
			t.Fatalf("QueryFrames: %v", err)
		}
		records = append(records, record)
	}
	return records
}

func collectSamples(t *testing.T, st *store.Store, filter store.SampleFilter) []store.SampleRecord {
	t.Helper()
	var records []store.SampleRecord
	for record, err := range st.QuerySamples(context.Background(), filter) {
		if err != nil {
			t.Fatalf("QuerySamples: %v", err)
		}
		records = append(records, record)
	}
	return records
}

func TestControllerPersistsFramesAndSamples(t *testing.T) {
	hub := relay.NewHub(16)
	st := openStore(t)
	controller, err := New(Config{
		Name:     "test",
		Source:   hubSource(hub),
		Database: loadDatabase(t),
		Mapping:  loadMapping(t),
		Store:    st,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if controller.State() != StateIdle {
		t.Fatalf("initial state = %s, want idle", controller.State())
	}

	stop, _ := runController(t, controller)
	waitForState(t, controller, StateRunning)

	// headLamp on, lightLevel 200 (above its maximum of 100).
	hub.Publish(frameAt(t, 0x100, 0, 0x01, 0xC8, 0, 0, 0, 0, 0, 0))
	testutil.Eventually(t, testTimeout, func() bool {
		return controller.Stats().Snapshot().SamplesPersisted == 5
	}, "samples persisted")

	if err := stop(); err != nil {
		t.Fatalf("Run() = %v, want nil after cancellation", err)
	}
	if controller.State() != StateStopped {
		t.Errorf("state after stop = %s, want stopped", controller.State())
	}

	frames := collectFrames(t, st)
	if len(frames) != 1 || frames[0].Message != "LIGHT_CONTROL" || frames[0].Frame.String() != "100#01C8000000000000" {
		t.Fatalf("frames = %+v", frames)
	}

	samples := collectSamples(t, st, store.SampleFilter{Path: "Vehicle.Body.Lights.IsHighBeamOn"})
	if len(samples) != 1 {
		t.Fatalf("got %d high beam samples, want 1", len(samples))
	}
	sample := samples[0].Sample
	if !sample.Value.Bool || !sample.Timestamp.Equal(testEpoch) || sample.MessageID != 0x100 || sample.Signal != "headLamp" {
		t.Errorf("high beam sample = %+v", sample)
	}

	snapshot := controller.Stats().Snapshot()
	if snapshot.FramesReceived != 1 || snapshot.FramesDecoded != 1 || snapshot.SamplesMapped != 5 {
		t.Errorf("snapshot = %+v", snapshot)
	}
	if snapshot.OutOfRange != 1 {
		t.Errorf("OutOfRange = %d, want 1 (lightLevel)", snapshot.OutOfRange)
	}
	for _, kind := range ErrorKinds {
		if snapshot.Errors[kind] != 0 {
			t.Errorf("Errors[%s] = %d, want 0", kind, snapshot.Errors[kind])
		}
	}
}

func collectSignals(t *testing.T, st *store.Store, filter store.SignalFilter) []store.SignalRecord {
	t.Helper()
	var records []store.SignalRecord
	for record, err := range st.QuerySignals(context.Background(), filter) {
		if err != nil {
			t.Fatalf("QuerySignals: %v", err)
		}
		records = append(records, record)
	}
	return records
}

func TestControllerPersistsEveryDecodedSignal(t *testing.T) {
	hub := relay.NewHub(16)
	st := openStore(t)
	controller, err := New(Config{
		Source:   hubSource(hub),
		Database: loadDatabase(t),
		Mapping:  loadMapping(t),
		Store:    st,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop, _ := runController(t, controller)
	waitForState(t, controller, StateRunning)

	frame := frameAt(t, 0x100, 0, 0x01, 0xC8, 0, 0, 0, 0, 0, 0)
	frame.Source = "fmu"
	hub.Publish(frame)
	testutil.Eventually(t, testTimeout, func() bool {
		return controller.Stats().Snapshot().SamplesPersisted == 5
	}, "samples persisted")
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	frames := collectFrames(t, st)
	if len(frames) != 1 || frames[0].Frame.Source != "fmu" {
		t.Fatalf("frames = %+v, want one frame from fmu", frames)
	}

	// Signals without a mapping entry are kept alongside the mapped ones.
	signals := collectSignals(t, st, store.SignalFilter{FrameSeq: frames[0].Seq})
	if len(signals) != 8 {
		t.Fatalf("stored %d signals, want all 8 LIGHT_CONTROL signals", len(signals))
	}
	level := collectSignals(t, st, store.SignalFilter{Name: "lightLevel"})
	if len(level) != 1 || level[0].Value.Raw != 200 || !level[0].Value.OutOfRange || level[0].Message != "LIGHT_CONTROL" {
		t.Errorf("lightLevel = %+v", level)
	}
}

func TestControllerUndecodableFramesStoredRaw(t *testing.T) {
	hub := relay.NewHub(16)
	st := openStore(t)
	controller, err := New(Config{
		Source:   hubSource(hub),
		Database: loadDatabase(t),
		Mapping:  loadMapping(t),
		Store:    st,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop, _ := runController(t, controller)
	waitForState(t, controller, StateRunning)

	hub.Publish(frameAt(t, 0x7FF, 0, 0xAA))
	// LIGHT_CONTROL signals reach byte 4; two bytes are not enough.
	hub.Publish(frameAt(t, 0x100, time.Millisecond, 0x01, 0x10))
	testutil.Eventually(t, testTimeout, func() bool {
		return controller.Stats().Snapshot().FramesReceived == 2
	}, "frames processed")

	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	frames := collectFrames(t, st)
	if len(frames) != 2 {
		t.Fatalf("stored %d frames, want 2", len(frames))
	}
	if frames[0].Frame.ID != 0x7FF || frames[0].Message != "" {
		t.Errorf("first frame = %+v, want unnamed 0x7FF", frames[0])
	}
	if samples := collectSamples(t, st, store.SampleFilter{}); len(samples) != 0 {
		t.Errorf("stored %d samples, want none", len(samples))
	}
	if signals := collectSignals(t, st, store.SignalFilter{}); len(signals) != 0 {
		t.Errorf("stored %d signals, want none", len(signals))
	}

	snapshot := controller.Stats().Snapshot()
	if snapshot.Errors[KindUnknownMessage] != 1 || snapshot.Errors[KindTruncatedFrame] != 1 {
		t.Errorf("errors = %v", snapshot.Errors)
	}
	if snapshot.LastErrors[KindTruncatedFrame].Message == "" {
		t.Error("no last error recorded for truncated_frame")
	}
	if snapshot.FramesDecoded != 0 {
		t.Errorf("FramesDecoded = %d, want 0", snapshot.FramesDecoded)
	}
}

func TestControllerTypeMismatchSkipsSignal(t *testing.T) {
	mapping, err := vss.ParseYAML([]byte(`
mappings:
  "0x100":
    headLamp:
      vss_path: Vehicle.Body.Lights.IsHighBeamOn
      data_type: boolean
    lightLevel:
      vss_path: Vehicle.Body.Lights.Level
      data_type: uint8
      conversion:
        scale: 2
`))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}

	hub := relay.NewHub(16)
	st := openStore(t)
	controller, err := New(Config{Source: hubSource(hub), Database: loadDatabase(t), Mapping: mapping, Store: st})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop, _ := runController(t, controller)
	waitForState(t, controller, StateRunning)

	// lightLevel 200 scales to 400, which does not fit uint8.
	hub.Publish(frameAt(t, 0x100, 0, 0x01, 0xC8, 0, 0, 0, 0, 0, 0))
	testutil.Eventually(t, testTimeout, func() bool {
		return controller.Stats().Snapshot().SamplesPersisted == 1
	}, "remaining signal persisted")
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := controller.Stats().Errors(KindTypeMismatch); got != 1 {
		t.Errorf("type_mismatch errors = %d, want 1", got)
	}
	samples := collectSamples(t, st, store.SampleFilter{PathPrefix: "Vehicle.Body.Lights"})
	if len(samples) != 1 || samples[0].Sample.Path != "Vehicle.Body.Lights.IsHighBeamOn" {
		t.Errorf("samples = %+v", samples)
	}
}

func TestControllerSubscribeBackoff(t *testing.T) {
	fake := clock.Fake(testEpoch)
	hub := relay.NewHub(16)

	var mu sync.Mutex
	var attempts []time.Time
	source := SourceFunc(func(context.Context) (Subscription, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, fake.Now())
		if len(attempts) < 3 {
			return nil, errors.New("connection refused")
		}
		return hub.Subscribe(), nil
	})

	controller, err := New(Config{
		Source:   source,
		Database: loadDatabase(t),
		Store:    openStore(t),
		Clock:    fake,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop, _ := runController(t, controller)

	fake.WaitForTimers(1)
	if controller.State() != StateSubscribing {
		t.Fatalf("state = %s, want subscribing", controller.State())
	}
	fake.Advance(DefaultInitialBackoff)
	fake.WaitForTimers(1)
	fake.Advance(2 * DefaultInitialBackoff)
	waitForState(t, controller, StateRunning)

	mu.Lock()
	got := attempts
	mu.Unlock()
	want := []time.Time{testEpoch, testEpoch.Add(500 * time.Millisecond), testEpoch.Add(1500 * time.Millisecond)}
	if len(got) != len(want) {
		t.Fatalf("attempts = %v, want %v", got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("attempt %d at %v, want %v", i+1, got[i], want[i])
		}
	}
	if transport := controller.Stats().Errors(KindTransport); transport != 2 {
		t.Errorf("transport errors = %d, want 2", transport)
	}

	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestControllerBackoffCapped(t *testing.T) {
	fake := clock.Fake(testEpoch)
	var mu sync.Mutex
	var attempts []time.Time
	source := SourceFunc(func(context.Context) (Subscription, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, fake.Now())
		return nil, errors.New("unreachable")
	})
	controller, err := New(Config{
		Source:         source,
		Database:       loadDatabase(t),
		Store:          openStore(t),
		InitialBackoff: time.Second,
		MaxBackoff:     3 * time.Second,
		Clock:          fake,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop, _ := runController(t, controller)

	for _, wait := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		fake.WaitForTimers(1)
		fake.Advance(wait)
	}
	fake.WaitForTimers(1)

	mu.Lock()
	last := attempts[len(attempts)-1]
	count := len(attempts)
	mu.Unlock()
	if count != 4 || !last.Equal(testEpoch.Add(6*time.Second)) {
		t.Errorf("%d attempts, last at %v; want 4 with the last at +6s", count, last)
	}
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestControllerResubscribesAfterLoss(t *testing.T) {
	fake := clock.Fake(testEpoch)
	hub := relay.NewHub(16)
	subscriptions := make(chan *relay.Subscription, 4)
	source := SourceFunc(func(context.Context) (Subscription, error) {
		subscription := hub.Subscribe()
		subscriptions <- subscription
		return subscription, nil
	})

	st := openStore(t)
	controller, err := New(Config{Source: source, Database: loadDatabase(t), Store: st, Clock: fake})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop, _ := runController(t, controller)

	first := testutil.RequireReceive(t, subscriptions, testTimeout, "first subscription")
	first.Close()
	testutil.RequireReceive(t, subscriptions, testTimeout, "resubscribed")
	waitForState(t, controller, StateRunning)

	hub.Publish(frameAt(t, 0x101, 0, 0x01, 0x50))
	testutil.Eventually(t, testTimeout, func() bool {
		return controller.Stats().Snapshot().FramesReceived == 1
	}, "frame after resubscribe")

	snapshot := controller.Stats().Snapshot()
	if snapshot.Subscriptions != 2 || snapshot.Errors[KindTransport] != 1 {
		t.Errorf("subscriptions = %d, transport errors = %d; want 2 and 1",
			snapshot.Subscriptions, snapshot.Errors[KindTransport])
	}
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// flakyStore fails writes according to fail, which receives the
// 1-based write number.
type flakyStore struct {
	fail func(call int) bool

	mu      sync.Mutex
	calls   int
	flushed bool
}

func (s *flakyStore) write() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail(s.calls) {
		return errors.New("disk I/O error")
	}
	return nil
}

func (s *flakyStore) AppendFrame(context.Context, store.FrameRecord) error { return s.write() }

func (s *flakyStore) AppendDecodedFrame(context.Context, store.FrameRecord, []signaldb.SignalValue) error {
	return s.write()
}

func (s *flakyStore) AppendSamples(context.Context, []vss.Sample) error { return s.write() }

func (s *flakyStore) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = true
	return nil
}

func TestControllerPersistenceUnavailable(t *testing.T) {
	hub := relay.NewHub(16)
	persister := &flakyStore{fail: func(int) bool { return true }}
	controller, err := New(Config{
		Source:             hubSource(hub),
		Database:           loadDatabase(t),
		Store:              persister,
		MaxPersistFailures: 3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, result := runController(t, controller)
	waitForState(t, controller, StateRunning)

	for i := range 3 {
		hub.Publish(frameAt(t, 0x7FF, time.Duration(i)*time.Millisecond))
	}

	err = testutil.RequireReceive(t, result, testTimeout, "controller gives up")
	if !errors.Is(err, ErrPersistenceUnavailable) {
		t.Fatalf("Run() = %v, want ErrPersistenceUnavailable", err)
	}
	if controller.State() != StateStopped {
		t.Errorf("state = %s, want stopped", controller.State())
	}
	if got := controller.Stats().Errors(KindPersistence); got != 3 {
		t.Errorf("persistence errors = %d, want 3", got)
	}
	persister.mu.Lock()
	flushed := persister.flushed
	persister.mu.Unlock()
	if !flushed {
		t.Error("store not flushed while draining")
	}
}

func TestControllerFailureStreakResets(t *testing.T) {
	hub := relay.NewHub(16)
	// Every other write fails; the streak never reaches two.
	persister := &flakyStore{fail: func(call int) bool { return call%2 == 1 }}
	controller, err := New(Config{
		Source:             hubSource(hub),
		Database:           loadDatabase(t),
		Mapping:            loadMapping(t),
		Store:              persister,
		MaxPersistFailures: 2,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop, _ := runController(t, controller)
	waitForState(t, controller, StateRunning)

	for i := range 4 {
		hub.Publish(frameAt(t, 0x100, time.Duration(i)*time.Millisecond, 0x01, 0, 0, 0, 0, 0, 0, 0))
	}
	testutil.Eventually(t, testTimeout, func() bool {
		return controller.Stats().Snapshot().FramesReceived == 4
	}, "frames processed")

	if err := stop(); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	snapshot := controller.Stats().Snapshot()
	if snapshot.Errors[KindPersistence] != 4 {
		t.Errorf("persistence errors = %d, want 4", snapshot.Errors[KindPersistence])
	}
	if snapshot.SamplesPersisted != 4*5 {
		t.Errorf("SamplesPersisted = %d, want 20", snapshot.SamplesPersisted)
	}
}

func TestControllersShareStore(t *testing.T) {
	st := openStore(t)
	database := loadDatabase(t)
	mapping := loadMapping(t)

	hubs := []*relay.Hub{relay.NewHub(16), relay.NewHub(16)}
	var controllers []*Controller
	for i, hub := range hubs {
		controller, err := New(Config{
			Name:     []string{"front", "rear"}[i],
			Source:   hubSource(hub),
			Database: database,
			Mapping:  mapping,
			Store:    st,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		stop, _ := runController(t, controller)
		t.Cleanup(func() { stop() })
		controllers = append(controllers, controller)
		waitForState(t, controller, StateRunning)
	}

	for i := range 10 {
		hubs[0].Publish(frameAt(t, 0x100, time.Duration(2*i)*time.Millisecond, 0x01, 0, 0, 0, 0, 0, 0, 0))
		hubs[1].Publish(frameAt(t, 0x101, time.Duration(2*i+1)*time.Millisecond, 0x01, 0x50))
	}
	for _, controller := range controllers {
		testutil.Eventually(t, testTimeout, func() bool {
			return controller.Stats().Snapshot().FramesReceived == 10
		}, "controller "+controller.Name())
	}

	frames := collectFrames(t, st)
	if len(frames) != 20 {
		t.Fatalf("stored %d frames, want 20", len(frames))
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Frame.Timestamp.Before(frames[i-1].Frame.Timestamp) {
			t.Fatalf("frames out of timestamp order at %d", i)
		}
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	database := loadDatabase(t)
	source := hubSource(relay.NewHub(1))
	persister := &flakyStore{fail: func(int) bool { return false }}

	for name, config := range map[string]Config{
		"source":   {Database: database, Store: persister},
		"database": {Source: source, Store: persister},
		"store":    {Source: source, Database: database},
	} {
		if _, err := New(config); err == nil {
			t.Errorf("New without %s succeeded", name)
		}
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateIdle:        "idle",
		StateSubscribing: "subscribing",
		StateRunning:     "running",
		StateDraining:    "draining",
		StateStopped:     "stopped",
		State(42):        "state(42)",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(state), got, want)
		}
	}
}
