package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/emagent/internal/wire"
)

// Client defaults.
const (
	DefaultQueueCapacity  = 1000
	DefaultTimeout        = 30 * time.Second
	DefaultReconnectDelay = 5 * time.Second
)

// SendResult reports what happened to one Send call.
type SendResult int

const (
	// Sent means the frame was written to the connection.
	Sent SendResult = iota + 1
	// Queued means the envelope is waiting in the outbound queue.
	Queued
	// Dropped means the queue was full and the envelope was discarded.
	Dropped
)

// String returns the lowercase name of the result.
func (r SendResult) String() string {
	switch r {
	case Sent:
		return "sent"
	case Queued:
		return "queued"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// DialFunc opens a connection. It has the signature of net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Client sends envelopes to a Server, buffering them in a bounded queue
// while disconnected.
//
// Ordering: envelopes reach the wire in the order Send was called. Connect
// installs a new connection and drains the queue while holding the client
// lock, so no Send can slip in ahead of older queued envelopes.
//
// Thread-safety: all methods are safe for concurrent use.
type Client struct {
	addr           string
	secret         string
	timeout        time.Duration
	reconnectDelay time.Duration
	dial           DialFunc
	logger         *slog.Logger
	now            func() time.Time
	queue          *outboundQueue

	mu   sync.Mutex
	conn net.Conn // nil when disconnected

	// connecting is set while a dial is in flight; at most one dial runs.
	connecting atomic.Bool
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	queueCapacity  int
	timeout        time.Duration
	reconnectDelay time.Duration
	dial           DialFunc
	logger         *slog.Logger
	now            func() time.Time
}

// WithQueueCapacity bounds the outbound queue. Default: 1000.
func WithQueueCapacity(n int) ClientOption {
	return func(c *clientConfig) {
		if n > 0 {
			c.queueCapacity = n
		}
	}
}

// WithTimeout bounds each dial and each frame write. Default: 30s.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithReconnectDelay sets the interval between reconnection attempts.
// Default: 5s.
func WithReconnectDelay(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(dial DialFunc) ClientOption {
	return func(c *clientConfig) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithClientLogger sets the logger. Default: slog.Default().
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the source of envelope creation times.
func WithClock(now func() time.Time) ClientOption {
	return func(c *clientConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a disconnected client for the server at addr.
func NewClient(addr, secret string, opts ...ClientOption) *Client {
	cfg := clientConfig{
		queueCapacity:  DefaultQueueCapacity,
		timeout:        DefaultTimeout,
		reconnectDelay: DefaultReconnectDelay,
		dial:           (&net.Dialer{}).DialContext,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Client{
		addr:           addr,
		secret:         secret,
		timeout:        cfg.timeout,
		reconnectDelay: cfg.reconnectDelay,
		dial:           cfg.dial,
		logger:         cfg.logger,
		now:            cfg.now,
		queue:          newOutboundQueue(cfg.queueCapacity),
	}
}

// Connect dials the server if the client is disconnected and then flushes
// the outbound queue in FIFO order.
//
// If a frame fails during the flush, that envelope goes back to the front of
// the queue, the client is marked disconnected and the flush stops. Connect
// returns whether the client is connected once it finishes. A Connect that
// finds another dial in flight returns the current state without dialing.
func (c *Client) Connect(ctx context.Context) bool {
	if c.IsConnected() {
		return true
	}
	if !c.connecting.CompareAndSwap(false, true) {
		return c.IsConnected()
	}
	defer c.connecting.Store(false)

	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	conn, err := c.dial(dctx, "tcp", c.addr)
	cancel()
	if err != nil {
		c.logger.Debug("transport connect failed", "code", ErrCodeTransportFailure, "addr", c.addr, "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = conn.Close()
		return true
	}
	c.conn = conn
	go c.watch(conn)

	backlog := c.queue.Len()
	flushed := c.flushLocked()
	c.logger.Info("transport connected", "addr", c.addr, "flushed", flushed, "backlog", backlog)

	return c.conn != nil
}

// flushLocked drains the queue onto the current connection and returns the
// number of envelopes written. Caller must hold c.mu.
func (c *Client) flushLocked() int {
	n := 0
	for c.conn != nil {
		e, ok := c.queue.Pop()
		if !ok {
			break
		}
		if err := c.writeLocked(e); err != nil {
			c.queue.PushFront(e)
			c.dropLocked(err)
			break
		}
		n++
	}
	return n
}

func (c *Client) writeLocked(e wire.Envelope) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	return wire.WriteFrame(c.conn, e)
}

// dropLocked closes the current connection after a write failure.
func (c *Client) dropLocked(cause error) {
	c.logger.Warn("transport connection lost", "code", ErrCodeTransportFailure, "addr", c.addr, "error", cause)
	_ = c.conn.Close()
	c.conn = nil
}

// watch blocks reading conn and marks the client disconnected once the peer
// closes it. The server never writes, so any read result means the
// connection is gone.
func (c *Client) watch(conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		_ = conn.Close()
		c.conn = nil
		c.logger.Info("transport peer closed connection", "addr", c.addr)
	}
}

// Send builds an envelope stamped with the client's credential and the
// current time, and writes it if connected. Otherwise, or if the write
// fails, the envelope is queued. A full queue drops it.
func (c *Client) Send(kind string, payload map[string]any) SendResult {
	e := wire.NewEnvelope(kind, payload, c.secret, c.now())

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.writeLocked(e)
		if err == nil {
			return Sent
		}
		c.dropLocked(err)
	}

	if !c.queue.Push(e) {
		c.logger.Warn("outbound queue full, dropping envelope", "code", ErrCodeQueueFull, "kind", kind, "capacity", c.queue.Cap())
		return Dropped
	}
	return Queued
}

// Disconnect closes the connection. Queued envelopes are kept.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// IsConnected reports whether a connection is installed.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// QueueLen returns the number of envelopes waiting for a connection.
func (c *Client) QueueLen() int {
	return c.queue.Len()
}

// RunReconnect calls Connect every reconnect delay while the client is
// disconnected, until ctx is canceled.
func (c *Client) RunReconnect(ctx context.Context) {
	ticker := time.NewTicker(c.reconnectDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.IsConnected() {
				c.Connect(ctx)
			}
		}
	}
}
