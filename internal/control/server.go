// Package control serves the local admin channel of the collector: one CBOR
// request and one CBOR response per Unix socket connection.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const (
	readTimeout    = 10 * time.Second
	writeTimeout   = 10 * time.Second
	maxRequestSize = 64 << 10
)

// ActionFunc runs one control action. A non-nil result is returned to the
// caller in Response.Data.
type ActionFunc func(ctx context.Context) (any, error)

// Server dispatches control requests to registered actions.
type Server struct {
	socketPath string
	logger     *slog.Logger

	mu       sync.RWMutex
	handlers map[string]ActionFunc

	active sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a server for socketPath.
func NewServer(socketPath string, opts ...Option) *Server {
	s := &Server{
		socketPath: socketPath,
		logger:     slog.Default(),
		handlers:   make(map[string]ActionFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers fn for action. Registering an action twice panics.
func (s *Server) Handle(action string, fn ActionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[action]; ok {
		panic(fmt.Sprintf("control: duplicate handler for action %q", action))
	}
	s.handlers[action] = fn
}

// Actions returns the number of registered actions.
func (s *Server) Actions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Serve listens on the socket until ctx is cancelled, then waits for
// in-flight actions. A stale socket file is removed first; the socket is
// removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket %s: %w", s.socketPath, err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	defer func() {
		ln.Close()
		os.Remove(s.socketPath)
	}()
	if err := os.Chmod(s.socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod %s: %w", s.socketPath, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.logger.Info("control socket listening", "path", s.socketPath)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("control accept failed", "error", err)
			continue
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.serveConn(ctx, conn)
		}()
	}

	s.active.Wait()
	return nil
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	var req Request
	if err := decMode.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.reply(conn, Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if req.Action == "" {
		s.reply(conn, Response{Error: "missing action"})
		return
	}

	s.mu.RLock()
	fn, ok := s.handlers[req.Action]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("unknown control action", "action", req.Action)
		s.reply(conn, Response{Error: fmt.Sprintf("unknown action %q", req.Action)})
		return
	}

	result, err := invoke(ctx, fn)
	if err != nil {
		s.logger.Warn("control action failed", "action", req.Action, "error", err)
		s.reply(conn, Response{Error: err.Error()})
		return
	}

	resp := Response{OK: true}
	if result != nil {
		data, err := encMode.Marshal(result)
		if err != nil {
			s.reply(conn, Response{Error: fmt.Sprintf("encode result: %v", err)})
			return
		}
		resp.Data = data
	}
	s.logger.Debug("control action completed", "action", req.Action)
	s.reply(conn, resp)
}

func (s *Server) reply(conn net.Conn, resp Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := encMode.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Debug("control reply failed", "error", err)
	}
}

func invoke(ctx context.Context, fn ActionFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return fn(ctx)
}
