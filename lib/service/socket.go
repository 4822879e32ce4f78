// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/sdv-zonal/canbridge/lib/codec"
)

// ActionFunc handles one request. raw is the whole CBOR request,
// including the "action" field; handlers that take parameters decode
// them with DecodeRequest.
//
// A nil result produces {ok: true}. A non-nil result is encoded into
// the response's data field.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope of every reply.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// SocketServer answers CBOR requests on a Unix socket, one request per
// connection. The built-in "actions" action lists what is registered.
type SocketServer struct {
	socketPath string
	handlers   map[string]ActionFunc
	logger     *slog.Logger

	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server for socketPath. Register actions
// with Handle before calling Serve.
func NewSocketServer(socketPath string, logger *slog.Logger) *SocketServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	server := &SocketServer{
		socketPath: socketPath,
		handlers:   make(map[string]ActionFunc),
		logger:     logger,
	}
	server.handlers["actions"] = func(context.Context, []byte) (any, error) {
		return server.Actions(), nil
	}
	return server
}

// Handle registers handler for action. Panics on a duplicate action.
// Not safe to call once Serve has started.
func (s *SocketServer) Handle(action string, handler ActionFunc) {
	if _, exists := s.handlers[action]; exists {
		panic(fmt.Sprintf("service.SocketServer: duplicate handler for action %q", action))
	}
	s.handlers[action] = handler
}

// Actions returns the registered action names, sorted.
func (s *SocketServer) Actions() []string {
	actions := make([]string, 0, len(s.handlers))
	for action := range s.handlers {
		actions = append(actions, action)
	}
	slices.Sort(actions)
	return actions
}

// Serve listens on the socket until ctx is cancelled, then waits for
// in-flight requests. A stale socket file is replaced; the socket file
// is removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("status socket listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 10 * time.Second

	// maxRequestSize bounds one request. Requests are a handful of
	// short fields.
	maxRequestSize = 64 * 1024
)

func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("action failed", "action", header.Action, "error", err)
		s.writeError(conn, err.Error())
		return
	}
	s.writeSuccess(conn, result)
}

func (s *SocketServer) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{Error: message}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *SocketServer) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}

// DecodeRequest decodes the action-specific fields of raw into a T.
func DecodeRequest[T any](raw []byte) (T, error) {
	var request T
	if err := codec.Unmarshal(raw, &request); err != nil {
		return request, fmt.Errorf("invalid request fields: %w", err)
	}
	return request, nil
}
