// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/sdv-zonal/canbridge/lib/codec"
	"github.com/sdv-zonal/canbridge/lib/testutil"
)

// startServer registers handlers on a new server, serves it, and
// returns the socket path. The server stops when the test ends.
func startServer(t *testing.T, register func(*SocketServer)) string {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "status.sock")
	server := NewSocketServer(socketPath, nil)
	if register != nil {
		register(server)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Serve(ctx); err != nil {
			t.Errorf("Serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, 5*time.Second, "server shutdown")
	})

	testutil.Eventually(t, 5*time.Second, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, "socket listening")
	return socketPath
}

type echoRequest struct {
	Message string `cbor:"message"`
}

func TestCallRoundTrip(t *testing.T) {
	socketPath := startServer(t, func(server *SocketServer) {
		server.Handle("echo", func(_ context.Context, raw []byte) (any, error) {
			request, err := DecodeRequest[echoRequest](raw)
			if err != nil {
				return nil, err
			}
			return map[string]string{"echo": request.Message}, nil
		})
		server.Handle("nothing", func(context.Context, []byte) (any, error) { return nil, nil })
	})
	client := NewServiceClient(socketPath)
	ctx := context.Background()

	var result map[string]string
	if err := client.Call(ctx, "echo", map[string]any{"message": "hello"}, &result); err != nil {
		t.Fatalf("Call(echo): %v", err)
	}
	if result["echo"] != "hello" {
		t.Errorf("echo result = %v", result)
	}

	if err := client.Call(ctx, "nothing", nil, nil); err != nil {
		t.Fatalf("Call(nothing): %v", err)
	}

	var actions []string
	if err := client.Call(ctx, "actions", nil, &actions); err != nil {
		t.Fatalf("Call(actions): %v", err)
	}
	if !slices.Equal(actions, []string{"actions", "echo", "nothing"}) {
		t.Errorf("actions = %v", actions)
	}
}

func TestCallErrors(t *testing.T) {
	socketPath := startServer(t, func(server *SocketServer) {
		server.Handle("fail", func(context.Context, []byte) (any, error) {
			return nil, errors.New("store closed")
		})
	})
	client := NewServiceClient(socketPath)

	tests := []struct {
		action  string
		message string
	}{
		{"fail", "store closed"},
		{"missing", `unknown action "missing"`},
	}
	for _, test := range tests {
		err := client.Call(context.Background(), test.action, nil, nil)
		var serviceError *ServiceError
		if !errors.As(err, &serviceError) {
			t.Fatalf("Call(%s) error = %v, want *ServiceError", test.action, err)
		}
		if serviceError.Message != test.message || serviceError.Action != test.action {
			t.Errorf("Call(%s) = %+v, want message %q", test.action, serviceError, test.message)
		}
	}
}

func TestMissingAction(t *testing.T) {
	socketPath := startServer(t, nil)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := codec.NewEncoder(conn).Encode(map[string]any{"verbose": true}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if response.OK || response.Error != "missing required field: action" {
		t.Errorf("response = %+v", response)
	}
}

func TestCallWithoutServer(t *testing.T) {
	client := NewServiceClient(filepath.Join(t.TempDir(), "absent.sock"))
	err := client.Call(context.Background(), "status", nil, nil)
	var serviceError *ServiceError
	if err == nil || errors.As(err, &serviceError) {
		t.Fatalf("Call without server error = %v, want a connection error", err)
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	server := NewSocketServer(filepath.Join(t.TempDir(), "dup.sock"), nil)
	defer func() {
		if recover() == nil {
			t.Error("registering the built-in actions handler again did not panic")
		}
	}()
	server.Handle("actions", func(context.Context, []byte) (any, error) { return nil, nil })
}
