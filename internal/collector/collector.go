// Package collector wires the privileged collector process: it receives
// events from agents over the local transport, persists them, forwards
// them to the remote endpoint and keeps local storage within its retention
// limits.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/emagent/internal/config"
	"github.com/roach88/emagent/internal/control"
	"github.com/roach88/emagent/internal/dispatch"
	"github.com/roach88/emagent/internal/export"
	"github.com/roach88/emagent/internal/store"
	"github.com/roach88/emagent/internal/syncer"
	"github.com/roach88/emagent/internal/transport"
	"github.com/roach88/emagent/internal/wire"
)

// System event types written by the collector.
const (
	EventServiceStart = "service_start"
	EventServiceStop  = "service_stop"
	EventSyncFailure  = "sync_failure"
)

// Collector is the long-running collector process.
type Collector struct {
	cfg    config.Config
	logger *slog.Logger
	now    func() time.Time
	ids    store.IDGenerator
	remote syncer.Remote
	notify func(state string) (bool, error)

	store      *store.Store
	clientID   string
	server     *transport.Server
	control    *control.Server
	engine     *syncer.Engine
	exporter   *export.Exporter
	dispatcher *dispatch.Dispatcher
	agents     lastSeen
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the clock used by the store, the sync engine and the
// cleanup loop. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDGenerator sets the client id generator. Default: UUIDv7.
func WithIDGenerator(g store.IDGenerator) Option {
	return func(c *Collector) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithRemote replaces the HTTP remote built from the sync settings.
func WithRemote(r syncer.Remote) Option {
	return func(c *Collector) {
		c.remote = r
	}
}

// New opens the store and builds every component. The caller must call
// Run, or Close if Run is never called.
func New(cfg config.Config, opts ...Option) (*Collector, error) {
	c := &Collector{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		ids:    store.UUIDv7Generator{},
		notify: notifySystemd,
	}
	for _, opt := range opts {
		opt(c)
	}

	st, err := store.Open(cfg.Paths.Database, store.WithClock(c.now))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c.store = st

	c.clientID, err = st.ClientID(context.Background(), c.ids)
	if err != nil {
		st.Close()
		return nil, err
	}

	if c.remote == nil {
		c.remote = syncer.NewHTTPRemote(cfg.Sync.Endpoint, cfg.Sync.APIKey, c.clientID, config.Version,
			syncer.WithGzip(cfg.Sync.Gzip),
		)
	}
	c.engine = syncer.New(st, c.remote,
		syncer.WithBatchSize(cfg.Sync.BatchSize),
		syncer.WithEnabled(cfg.Sync.Enabled),
		syncer.WithRetry(cfg.Sync.RetryAttempts, cfg.Sync.RetryDelay),
		syncer.WithNow(c.now),
		syncer.WithLogger(c.logger.With("component", "sync")),
		syncer.WithFailureHook(c.recordSyncFailure),
	)

	c.exporter = export.New(st, cfg.Paths.Exports,
		export.WithFormat(export.Format(cfg.Export.Format)),
		export.WithLimit(cfg.Export.Limit),
		export.WithClientID(c.clientID),
		export.WithNow(c.now),
		export.WithLogger(c.logger.With("component", "export")),
	)
	c.dispatcher = dispatch.New(c.engine, c.exporter, st, dispatch.WithLogger(c.logger.With("component", "dispatch")))

	c.server = transport.NewServer(cfg.IPC.Secret,
		transport.WithLogger(c.logger.With("component", "transport")),
		transport.WithMaxFrameSize(cfg.IPC.MaxFrameSize),
	)
	c.server.RegisterHandler(wire.KindScreenshot, c.handleScreenshot)
	c.server.RegisterHandler(wire.KindClipboard, c.handleClipboard)
	c.server.RegisterHandler(wire.KindAppUsage, c.handleAppUsage)
	c.server.RegisterHandler(wire.KindPing, c.handlePing)
	c.server.RegisterHandler(wire.KindCommand, c.dispatcher.HandleCommand)

	c.control = control.NewServer(cfg.Paths.ControlSocket, control.WithLogger(c.logger.With("component", "control")))
	c.dispatcher.RegisterControl(c.control)

	return c, nil
}

// ClientID returns the installation identifier.
func (c *Collector) ClientID() string { return c.clientID }

// Store returns the record store.
func (c *Collector) Store() *store.Store { return c.store }

// Server returns the transport server.
func (c *Collector) Server() *transport.Server { return c.server }

// Engine returns the sync engine.
func (c *Collector) Engine() *syncer.Engine { return c.engine }

// AgentsSeen returns the last ping time per agent id.
func (c *Collector) AgentsSeen() map[string]time.Time { return c.agents.snapshot() }

// Close releases the store.
func (c *Collector) Close() error {
	return c.store.Close()
}

// Run serves until ctx is canceled. It returns an error only when startup
// fails; the store is closed on return either way.
func (c *Collector) Run(ctx context.Context) error {
	defer c.Close()

	c.logger.Info("collector starting", "version", config.Version, "client_id", c.clientID)
	c.systemEvent(EventServiceStart, "collector started", map[string]any{"version": config.Version})

	if err := c.server.Start(c.cfg.IPC.Addr()); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	if err := os.MkdirAll(filepath.Dir(c.cfg.Paths.ControlSocket), 0o750); err != nil {
		c.logger.Error("control socket unavailable", "error", err)
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.control.Serve(runCtx); err != nil {
				c.logger.Error("control socket unavailable", "error", err)
			}
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		c.engine.Run(runCtx, c.cfg.Sync.Interval)
	}()
	go func() {
		defer wg.Done()
		c.cleanupLoop(runCtx)
	}()

	if ok, err := c.notify("READY=1"); err != nil {
		c.logger.Warn("readiness notification failed", "error", err)
	} else if ok {
		c.logger.Debug("readiness notified")
	}
	c.logger.Info("collector running", "addr", c.server.Addr().String(), "sync_enabled", c.engine.Enabled())

	<-ctx.Done()
	c.logger.Info("collector stopping")
	_, _ = c.notify("STOPPING=1")

	c.server.Stop()
	cancel()
	wg.Wait()

	c.systemEvent(EventServiceStop, "collector stopped", nil)
	c.logger.Info("collector stopped")
	return nil
}

// CleanupResult reports one cleanup cycle.
type CleanupResult struct {
	Rows  store.CleanupResult `json:"rows"`
	Files SweepResult         `json:"files"`
}

// Cleanup applies the retention policy to the store and the screenshot
// directory.
func (c *Collector) Cleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	var err error

	res.Rows, err = c.store.DeleteOlderThan(ctx, store.Retention{
		Window:           c.cfg.Retention.Window(),
		Ceiling:          c.cfg.Retention.Ceiling(),
		ScreenshotWindow: c.cfg.Retention.ScreenshotWindow(),
	})
	if err != nil {
		return res, err
	}

	res.Files, err = SweepScreenshots(c.cfg.Paths.Screenshots, c.now().Add(-c.cfg.Retention.ScreenshotWindow()))
	if err != nil {
		return res, err
	}
	return res, nil
}

func (c *Collector) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Retention.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res, err := c.Cleanup(ctx)
		if err != nil {
			c.logger.Error("cleanup failed", "error", err)
			continue
		}
		if len(res.Files.Failed) > 0 {
			c.logger.Warn("some screenshots could not be deleted", "files", res.Files.Failed)
		}
		c.logger.Info("cleanup completed",
			"rows_deleted", res.Rows.Total(),
			"files_deleted", res.Files.Deleted,
			"bytes_freed", res.Files.Bytes,
		)
		if st, err := c.store.Statistics(ctx); err == nil {
			c.logger.Info("store statistics", "counts", st.Counts, "unsynced", st.Unsynced, "size_bytes", st.SizeBytes)
		}
	}
}

func (c *Collector) recordSyncFailure(ctx context.Context, class store.RecordClass, err error) {
	details := map[string]any{"data_type": string(class)}
	if status := syncer.StatusOf(err); status != 0 {
		details["status"] = status
	}
	if werr := c.store.LogSystemEvent(ctx, store.Event{
		Type:     EventSyncFailure,
		Severity: store.SeverityWarning,
		Message:  err.Error(),
		Details:  details,
	}); werr != nil {
		c.logger.Warn("could not record sync failure", "error", werr)
	}
}

func (c *Collector) systemEvent(typ, msg string, details map[string]any) {
	// Written on a fresh context so service_stop survives cancellation.
	if err := c.store.LogSystemEvent(context.Background(), store.Event{
		Type:    typ,
		Message: msg,
		Details: details,
	}); err != nil {
		c.logger.Warn("could not record system event", "type", typ, "error", err)
	}
}
