// Package agent implements the user-session relay. Local monitors write
// newline-delimited JSON events; the relay enriches clipboard events and
// forwards everything to the collector over the transport client, with a
// periodic heartbeat ping.
package agent

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/emagent/internal/transport"
	"github.com/roach88/emagent/internal/wire"
)

// PreviewRunes is the length of a clipboard content preview.
const PreviewRunes = 200

// DefaultHeartbeat is the ping interval.
const DefaultHeartbeat = 30 * time.Second

// Sender delivers one message to the collector.
type Sender interface {
	Send(kind string, payload map[string]any) transport.SendResult
}

// Sealer seals clipboard content.
type Sealer interface {
	Encrypt(plaintext []byte) (string, error)
}

// Counters are cumulative relay outcomes.
type Counters struct {
	Sent       int64 `json:"sent"`
	Queued     int64 `json:"queued"`
	Dropped    int64 `json:"dropped"`
	Malformed  int64 `json:"malformed"`
	Duplicates int64 `json:"duplicates"`
}

// event is one input line.
type event struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data"`
}

// Relay forwards monitor events to the collector.
type Relay struct {
	sender    Sender
	sealer    Sealer
	agentID   string
	version   string
	heartbeat time.Duration
	maxLine   int
	logger    *slog.Logger

	mu       sync.Mutex
	lastHash string

	sent, queued, dropped, malformed, duplicates atomic.Int64
}

// Option configures a Relay.
type Option func(*Relay)

// WithSealer encrypts clipboard content. Without one, clipboard events carry
// only the preview and hash.
func WithSealer(s Sealer) Option {
	return func(r *Relay) { r.sealer = s }
}

// WithAgentID sets the id reported in heartbeats.
func WithAgentID(id string) Option {
	return func(r *Relay) {
		if id != "" {
			r.agentID = id
		}
	}
}

// WithVersion sets the version reported in heartbeats.
func WithVersion(v string) Option {
	return func(r *Relay) { r.version = v }
}

// WithHeartbeat sets the ping interval. Default: 30s.
func WithHeartbeat(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.heartbeat = d
		}
	}
}

// WithMaxLine bounds one input line. Default: wire.DefaultMaxFrameSize.
func WithMaxLine(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.maxLine = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a relay sending through s.
func New(s Sender, opts ...Option) *Relay {
	r := &Relay{
		sender:    s,
		agentID:   "unknown",
		heartbeat: DefaultHeartbeat,
		maxLine:   wire.DefaultMaxFrameSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Counters returns a snapshot of the relay counters.
func (r *Relay) Counters() Counters {
	return Counters{
		Sent:       r.sent.Load(),
		Queued:     r.queued.Load(),
		Dropped:    r.dropped.Load(),
		Malformed:  r.malformed.Load(),
		Duplicates: r.duplicates.Load(),
	}
}

// Run relays lines from in until it is exhausted or ctx is canceled, and
// pings on the heartbeat interval meanwhile.
func (r *Relay) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.runHeartbeat(ctx)
	}()

	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64<<10), r.maxLine)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			if err := r.Process(line); err != nil {
				r.malformed.Add(1)
				r.logger.Warn("skipping malformed event", "error", err)
			}
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("read events: %w", err)
			}
			return nil
		}
	}
}

// Process relays one input line. Blank lines are ignored.
func (r *Relay) Process(line []byte) error {
	if len(line) == 0 || allSpace(line) {
		return nil
	}

	var ev event
	if err := json.Unmarshal(line, &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if ev.Kind == "" {
		return errors.New("event has no kind")
	}
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}

	if ev.Kind == wire.KindClipboard {
		dup, err := r.enrichClipboard(ev.Data)
		if err != nil {
			return err
		}
		if dup {
			r.duplicates.Add(1)
			return nil
		}
	}

	r.record(r.sender.Send(ev.Kind, ev.Data))
	return nil
}

// Ping sends one heartbeat.
func (r *Relay) Ping() transport.SendResult {
	res := r.sender.Send(wire.KindPing, map[string]any{"agent_id": r.agentID, "version": r.version})
	r.record(res)
	return res
}

func (r *Relay) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Ping()
		}
	}
}

func (r *Relay) record(res transport.SendResult) {
	switch res {
	case transport.Sent:
		r.sent.Add(1)
	case transport.Queued:
		r.queued.Add(1)
	case transport.Dropped:
		r.dropped.Add(1)
	}
}

// enrichClipboard replaces raw content with preview, hash and sealed copy.
// It reports true when the content repeats the previous clipboard event.
func (r *Relay) enrichClipboard(data map[string]any) (bool, error) {
	raw, ok := data["content"]
	if !ok {
		return false, nil
	}
	content, ok := raw.(string)
	if !ok {
		return false, fmt.Errorf("clipboard content: want string, got %T", raw)
	}
	delete(data, "content")

	sum := sha256.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])

	r.mu.Lock()
	dup := hash == r.lastHash
	r.lastHash = hash
	r.mu.Unlock()
	if dup {
		return true, nil
	}

	data["content_hash"] = hash
	data["content_preview"] = preview(content)
	if _, ok := data["content_type"]; !ok {
		data["content_type"] = "text"
	}
	if r.sealer != nil {
		token, err := r.sealer.Encrypt([]byte(content))
		if err != nil {
			r.logger.Error("clipboard encryption failed", "error", err)
		} else {
			data["encrypted_content"] = token
		}
	}
	return false, nil
}

func preview(s string) string {
	n := 0
	for i := range s {
		if n == PreviewRunes {
			return s[:i]
		}
		n++
	}
	return s
}

func allSpace(b []byte) bool {
	for _, c := range b {
		if c != ' ' && c != '\t' && c != '\r' {
			return false
		}
	}
	return true
}
