// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sdv-zonal/canbridge/lib/archive"
	"github.com/sdv-zonal/canbridge/lib/canframe"
	"github.com/sdv-zonal/canbridge/lib/relay"
	"github.com/sdv-zonal/canbridge/lib/service"
	"github.com/sdv-zonal/canbridge/lib/signaldb"
	"github.com/sdv-zonal/canbridge/lib/store"
	"github.com/sdv-zonal/canbridge/lib/testutil"
	"github.com/sdv-zonal/canbridge/lib/vss"
)

const testTimeout = 5 * time.Second

var (
	testEpoch  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	schemaPath = filepath.Join("..", "..", "lib", "signaldb", "testdata", "lights.yaml")
)

// execute runs canctl with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := root(&out, &errOut).Execute(context.Background(), args)
	return out.String(), errOut.String(), err
}

func TestFrameSpecBuild(t *testing.T) {
	database, err := signaldb.Load(schemaPath)
	if err != nil {
		t.Fatalf("signaldb.Load: %v", err)
	}

	frame, label, err := frameSpec{
		message: "LIGHT_CONTROL",
		signals: []string{"headLamp=on", "lightLevel=50"},
	}.build(database, testEpoch)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if frame.String() != "100#0132000000000000" || label != "LIGHT_CONTROL" || !frame.Timestamp.Equal(testEpoch) {
		t.Errorf("message frame = %s (%s)", frame, label)
	}

	frame, label, err = frameSpec{id: "0x101", data: "01 50"}.build(database, testEpoch)
	if err != nil {
		t.Fatalf("build raw: %v", err)
	}
	if frame.String() != "101#0150" || label != "DOOR_STATUS" {
		t.Errorf("raw frame = %s (%s)", frame, label)
	}

	failures := map[string]frameSpec{
		"message without schema": {message: "LIGHT_CONTROL"},
		"message and id":         {message: "LIGHT_CONTROL", id: "0x100"},
		"signal without message": {id: "0x100", signals: []string{"headLamp=1"}},
		"nothing":                {},
		"bad hex":                {id: "0x100", data: "zz"},
		"payload too long":       {id: "0x100", data: "000102030405060708"},
		"unknown signal":         {message: "LIGHT_CONTROL", signals: []string{"fogLamp=1"}},
		"duplicate signal":       {message: "LIGHT_CONTROL", signals: []string{"headLamp=1", "headLamp=0"}},
		"malformed pair":         {message: "LIGHT_CONTROL", signals: []string{"headLamp"}},
	}
	for name, spec := range failures {
		t.Run(name, func(t *testing.T) {
			schema := database
			if name == "message without schema" {
				schema = nil
			}
			if _, _, err := spec.build(schema, testEpoch); err == nil {
				t.Error("build succeeded")
			}
		})
	}
}

func TestParseTimeBound(t *testing.T) {
	now := testEpoch
	tests := []struct {
		text string
		want time.Time
	}{
		{"", time.Time{}},
		{"2026-03-01T11:00:00Z", testEpoch.Add(-time.Hour)},
		{"10m", testEpoch.Add(-10 * time.Minute)},
	}
	for _, test := range tests {
		got, err := parseTimeBound(test.text, now)
		if err != nil || !got.Equal(test.want) {
			t.Errorf("parseTimeBound(%q) = %v, %v; want %v", test.text, got, err, test.want)
		}
	}
	for _, bad := range []string{"yesterday", "-5m"} {
		if _, err := parseTimeBound(bad, now); err == nil {
			t.Errorf("parseTimeBound(%q) succeeded", bad)
		}
	}
}

func TestSendReachesRelay(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	hub := relay.NewHub(16)
	subscription := hub.Subscribe()
	defer subscription.Close()
	frameRelay := relay.New(relay.Config{Hub: hub})
	ingress := relay.NewIngress(relay.IngressConfig{
		Listener: listener,
		Dispatch: frameRelay.Dispatch,
		Stats:    frameRelay.Stats(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ingress.Serve(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		testutil.RequireClosed(t, done, testTimeout, "ingress shutdown")
	}()

	stdout, _, err := execute(t, "send",
		"--relay", listener.Addr().String(),
		"--schema", schemaPath,
		"--message", "LIGHT_CONTROL",
		"--signal", "headLamp=1",
		"--signal", "lightLevel=50",
		"--count", "2",
		"--interval", "1ms",
	)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if strings.Count(stdout, "sent 100#0132000000000000 (LIGHT_CONTROL)") != 2 {
		t.Errorf("stdout = %q", stdout)
	}

	for range 2 {
		frame := testutil.RequireReceive(t, subscription.Frames(), testTimeout, "frame not relayed")
		if frame.ID != 0x100 || frame.Data[1] != 0x32 {
			t.Errorf("relayed frame = %s", frame)
		}
	}
}

// populatedStore writes two decoded frames and their samples and
// returns the store path.
func populatedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canbridge.db")
	st, err := store.Open(store.Config{Path: path})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	database, err := signaldb.Load(schemaPath)
	if err != nil {
		t.Fatalf("signaldb.Load: %v", err)
	}
	ctx := context.Background()
	lights, _ := canframe.New(0x100, false, testEpoch, []byte{0x01, 0x32, 0, 0, 0, 0, 0, 0})
	lights.Source = "fmu"
	doors, _ := canframe.New(0x101, false, testEpoch.Add(time.Second), []byte{0x01, 0x50})
	for _, frame := range []canframe.Frame{lights, doors} {
		decoded, err := database.Decode(frame)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		record := store.FrameRecord{Frame: frame, Message: decoded.Message}
		if err := st.AppendDecodedFrame(ctx, record, decoded.Signals); err != nil {
			t.Fatalf("AppendDecodedFrame: %v", err)
		}
	}
	err = st.AppendSamples(ctx, []vss.Sample{
		{Timestamp: testEpoch, Path: "Vehicle.Body.Lights.IsHighBeamOn",
			Value: vss.Value{Type: vss.Boolean, Bool: true}, MessageID: 0x100, Signal: "headLamp"},
		{Timestamp: testEpoch.Add(time.Second), Path: "Vehicle.Cabin.Door.Row1.IsLocked",
			Value: vss.Value{Type: vss.Boolean, Bool: true}, MessageID: 0x101, Signal: "doorsLocked"},
	})
	if err != nil {
		t.Fatalf("AppendSamples: %v", err)
	}
	return path
}

func TestQueryFrames(t *testing.T) {
	database := populatedStore(t)

	stdout, _, err := execute(t, "query", "frames", "--database", database, "--schema", schemaPath)
	if err != nil {
		t.Fatalf("query frames: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header and two frames:\n%s", len(lines), stdout)
	}
	if !strings.Contains(lines[1], "100#0132000000000000") || !strings.Contains(lines[1], "headLamp=1") {
		t.Errorf("first frame line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "DOOR_STATUS") {
		t.Errorf("second frame line = %q", lines[2])
	}

	stdout, _, err = execute(t, "query", "frames", "--database", database, "--id", "0x101", "--json")
	if err != nil {
		t.Fatalf("query frames --json: %v", err)
	}
	var rows []frameRow
	if err := json.Unmarshal([]byte(stdout), &rows); err != nil {
		t.Fatalf("decoding JSON output: %v\n%s", err, stdout)
	}
	if len(rows) != 1 || rows[0].ID != "0x101" || rows[0].Data != "0150" || rows[0].Source != "" {
		t.Errorf("rows = %+v", rows)
	}
	if !strings.Contains(lines[1], "fmu") {
		t.Errorf("first frame line %q does not name its source", lines[1])
	}
}

func TestQuerySignals(t *testing.T) {
	database := populatedStore(t)

	stdout, _, err := execute(t, "query", "signals", "--database", database, "--name", "lightLevel")
	if err != nil {
		t.Fatalf("query signals: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "LIGHT_CONTROL") || !strings.Contains(lines[1], "50 %") {
		t.Fatalf("stdout = %q", stdout)
	}

	stdout, _, err = execute(t, "query", "signals", "--database", database, "--frame", "1")
	if err != nil {
		t.Fatalf("query signals --frame: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(stdout), "\n"); len(lines) != 9 {
		t.Errorf("got %d lines, want header and eight LIGHT_CONTROL signals:\n%s", len(lines), stdout)
	}

	stdout, _, err = execute(t, "query", "signals", "--database", database, "--id", "0x101", "--json")
	if err != nil {
		t.Fatalf("query signals --json: %v", err)
	}
	var rows []signalRow
	if err := json.Unmarshal([]byte(stdout), &rows); err != nil {
		t.Fatalf("decoding JSON output: %v\n%s", err, stdout)
	}
	if len(rows) != 2 || rows[0].Name != "doorsLocked" || rows[0].Raw != 1 || rows[1].Unit != "degC" || rows[1].Minimum != -40 {
		t.Errorf("rows = %+v", rows)
	}
	if rows[0].FrameSeq != 2 || rows[0].Message != "DOOR_STATUS" {
		t.Errorf("doorsLocked row = %+v, want frame 2 of DOOR_STATUS", rows[0])
	}
}

func TestQuerySamples(t *testing.T) {
	database := populatedStore(t)

	stdout, _, err := execute(t, "query", "samples", "--database", database, "--prefix", "Vehicle.Body")
	if err != nil {
		t.Fatalf("query samples: %v", err)
	}
	if !strings.Contains(stdout, "Vehicle.Body.Lights.IsHighBeamOn") || strings.Contains(stdout, "Vehicle.Cabin") {
		t.Errorf("stdout = %q", stdout)
	}

	stdout, _, err = execute(t, "query", "samples", "--database", database, "--json", "--limit", "1")
	if err != nil {
		t.Fatalf("query samples --json: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(stdout), &rows); err != nil {
		t.Fatalf("decoding JSON output: %v", err)
	}
	if len(rows) != 1 || rows[0]["value"] != true || rows[0]["signal"] != "headLamp" {
		t.Errorf("rows = %v", rows)
	}
}

func TestQueryMissingStore(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.db")
	if _, _, err := execute(t, "query", "frames", "--database", missing); err == nil {
		t.Fatal("query of a missing store succeeded")
	}
}

func TestExportAndRead(t *testing.T) {
	database := populatedStore(t)
	archivePath := filepath.Join(t.TempDir(), "capture.cana")

	_, stderr, err := execute(t, "export", "--database", database, "--output", archivePath, "--compression", "lz4")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(stderr, "exported 2 frames and 2 samples") {
		t.Errorf("stderr = %q", stderr)
	}

	stdout, _, err := execute(t, "read", archivePath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, want := range []string{"lz4", "101#0150 DOOR_STATUS", "Vehicle.Body.Lights.IsHighBeamOn = true", "2 frames, 2 samples, digest verified"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("read output missing %q:\n%s", want, stdout)
		}
	}

	_, _, err = execute(t, "read", database)
	if !errors.Is(err, archive.ErrCorrupt) {
		t.Errorf("reading a store as an archive = %v, want ErrCorrupt", err)
	}
}

func TestExportRequiresOutput(t *testing.T) {
	database := populatedStore(t)
	if _, _, err := execute(t, "export", "--database", database); err == nil {
		t.Error("export without --output succeeded")
	}
	if _, _, err := execute(t, "export", "--database", database, "-o", "x", "--frames-only", "--samples-only"); err == nil {
		t.Error("export with both exclusive flags succeeded")
	}
}

func TestStatus(t *testing.T) {
	socketPath := filepath.Join(testutil.SocketDir(t), "relay.sock")
	server := service.NewSocketServer(socketPath, nil)
	server.Handle("status", func(context.Context, []byte) (any, error) {
		return map[string]any{"binary": "can-relay", "relay": map[string]any{"frames_received": 42}}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		server.Serve(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		testutil.RequireClosed(t, done, testTimeout, "status socket shutdown")
	}()
	testutil.Eventually(t, testTimeout, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, "status socket listening")

	stdout, _, err := execute(t, "status", "--socket", socketPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(stdout, "binary: can-relay") || !strings.Contains(stdout, "frames_received: 42") {
		t.Errorf("YAML output = %q", stdout)
	}

	stdout, _, err = execute(t, "status", "--socket", socketPath, "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(stdout), &decoded); err != nil || decoded["binary"] != "can-relay" {
		t.Errorf("JSON output = %q (%v)", stdout, err)
	}

	if _, _, err := execute(t, "status"); err == nil {
		t.Error("status without --socket succeeded")
	}
}
