package transport

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/roach88/emagent/internal/wire"
)

// DefaultAcceptTimeout bounds how long the accept loop blocks before it
// re-checks for shutdown.
const DefaultAcceptTimeout = time.Second

// HandlerFunc processes the payload of one authenticated envelope.
//
// A returned error or a panic is logged as HANDLER_FAILURE and affects only
// that envelope; the connection keeps reading.
type HandlerFunc func(ctx context.Context, payload map[string]any) error

// Server accepts connections from agents on a loopback TCP address and
// dispatches authenticated envelopes to handlers by kind.
//
// The server never writes to a connection. Each accepted connection runs in
// its own goroutine and is tracked in an active set until it closes.
//
// Thread-safety: all methods are safe for concurrent use. Handlers for the
// same connection run sequentially; handlers for different connections may
// run concurrently.
type Server struct {
	secret        string
	logger        *slog.Logger
	acceptTimeout time.Duration
	maxFrameSize  int

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc

	mu  sync.Mutex
	run *serverRun // nil when stopped
}

// serverRun holds the state of one Start..Stop cycle.
type serverRun struct {
	listener *net.TCPListener
	done     chan struct{}

	// ctx is passed to handlers and canceled once every connection goroutine
	// has returned.
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAcceptTimeout sets the accept polling interval, which is the upper
// bound on how long Stop waits for the accept loop.
func WithAcceptTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.acceptTimeout = d
		}
	}
}

// WithMaxFrameSize sets the largest frame body accepted. Larger frames are
// discarded as malformed.
func WithMaxFrameSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxFrameSize = n
		}
	}
}

// NewServer creates a stopped server that accepts envelopes carrying secret.
func NewServer(secret string, opts ...ServerOption) *Server {
	s := &Server{
		secret:        secret,
		logger:        slog.Default(),
		acceptTimeout: DefaultAcceptTimeout,
		maxFrameSize:  wire.DefaultMaxFrameSize,
		handlers:      make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandler binds kind to h. A later registration for the same kind
// replaces the earlier one.
func (s *Server) RegisterHandler(kind string, h HandlerFunc) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[kind] = h
}

func (s *Server) handler(kind string) HandlerFunc {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return s.handlers[kind]
}

// Start binds addr and begins accepting connections in the background.
//
// A bind failure is returned to the caller. Calling Start on a running server
// logs a warning and returns nil.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		s.logger.Warn("transport server already running", "addr", s.run.listener.Addr().String())
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &Error{Code: ErrCodeTransportFailure, Message: fmt.Sprintf("bind %s", addr), Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &serverRun{
		listener: ln.(*net.TCPListener),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
	s.run = r

	r.wg.Add(1)
	go s.acceptLoop(r)

	s.logger.Info("transport server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil if the server is not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.listener.Addr()
}

// ActiveConnections returns the number of open agent connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Stop stops accepting, closes every active connection and waits for the
// connection goroutines to return. A handler already running for a
// connection completes first. Stop on a stopped server is a no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	r := s.run
	s.run = nil
	s.mu.Unlock()

	if r == nil {
		return
	}

	close(r.done)
	_ = r.listener.Close()

	r.mu.Lock()
	for conn := range r.conns {
		_ = conn.Close()
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.cancel()

	s.logger.Info("transport server stopped")
}

func (s *Server) acceptLoop(r *serverRun) {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		default:
		}

		_ = r.listener.SetDeadline(time.Now().Add(s.acceptTimeout))
		conn, err := r.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-r.done:
				return
			default:
			}
			s.logger.Warn("transport accept failed", "code", ErrCodeTransportFailure, "error", err)
			continue
		}

		r.mu.Lock()
		select {
		case <-r.done:
			// Stop already swept the set; this connection missed it.
			r.mu.Unlock()
			_ = conn.Close()
			return
		default:
		}
		r.conns[conn] = struct{}{}
		r.wg.Add(1)
		r.mu.Unlock()

		go s.serveConn(r, conn)
	}
}

func (s *Server) serveConn(r *serverRun, conn net.Conn) {
	defer r.wg.Done()

	peer := conn.RemoteAddr().String()
	defer func() {
		_ = conn.Close()
		r.mu.Lock()
		delete(r.conns, conn)
		r.mu.Unlock()
		s.logger.Debug("transport connection closed", "peer", peer)
	}()

	s.logger.Debug("transport connection opened", "peer", peer)

	for {
		env, err := wire.ReadFrame(conn, s.maxFrameSize)
		if err != nil {
			if wire.IsMalformed(err) {
				s.logger.Warn("discarding malformed frame", "code", wire.ErrCodeMalformedFrame, "peer", peer, "error", err)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("transport read failed", "code", ErrCodeTransportFailure, "peer", peer, "error", err)
			}
			return
		}
		s.dispatch(r.ctx, peer, env)
	}
}

// dispatch authenticates env and runs its handler. Every failure is logged
// here and never propagates to the connection loop.
func (s *Server) dispatch(ctx context.Context, peer string, env wire.Envelope) {
	if subtle.ConstantTimeCompare([]byte(env.Credential()), []byte(s.secret)) != 1 {
		err := &Error{Code: ErrCodeAuthenticationFailure, Message: "credential mismatch", Kind: env.Kind(), Peer: peer}
		s.logger.Warn("rejecting envelope", "code", err.Code, "peer", peer, "error", err)
		return
	}

	h := s.handler(env.Kind())
	if h == nil {
		s.logger.Warn("no handler registered", "kind", env.Kind(), "peer", peer)
		return
	}

	if err := invoke(ctx, h, env.Payload()); err != nil {
		herr := &Error{Code: ErrCodeHandlerFailure, Message: "handler failed", Kind: env.Kind(), Peer: peer, Err: err}
		s.logger.Error("handler failed", "code", herr.Code, "peer", peer, "error", herr)
	}
}

func invoke(ctx context.Context, h HandlerFunc, payload map[string]any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(ctx, payload)
}
