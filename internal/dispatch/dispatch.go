// Package dispatch maps the closed set of out-of-band commands onto sync,
// export and statistics actions. It serves both the transport "command"
// kind and the control socket.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/emagent/internal/control"
	"github.com/roach88/emagent/internal/export"
	"github.com/roach88/emagent/internal/store"
)

// Command names.
const (
	CommandSyncNow     = "sync_now"
	CommandExportNow   = "export_now"
	CommandReportStats = "report_stats"
)

// Commands lists every recognized command.
var Commands = []string{CommandSyncNow, CommandExportNow, CommandReportStats}

// ErrUnknownCommand is returned by Dispatch for names outside Commands.
var ErrUnknownCommand = errors.New("unknown command")

// Syncer schedules an asynchronous sync pass.
type Syncer interface {
	Trigger() bool
}

// Exporter writes a snapshot export.
type Exporter interface {
	Export(ctx context.Context) (export.Result, error)
}

// StatsSource reports store statistics.
type StatsSource interface {
	Statistics(ctx context.Context) (store.Stats, error)
}

// ControlRegistrar accepts control actions.
type ControlRegistrar interface {
	Handle(action string, fn control.ActionFunc)
}

// SyncTriggered is the result of sync_now. Accepted is false when a pass
// was already pending.
type SyncTriggered struct {
	Accepted bool `json:"accepted"`
}

// Dispatcher runs commands.
type Dispatcher struct {
	syncer   Syncer
	exporter Exporter
	stats    StatsSource
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a dispatcher.
func New(syncer Syncer, exporter Exporter, stats StatsSource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		syncer:   syncer,
		exporter: exporter,
		stats:    stats,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs the named command and returns its result.
func (d *Dispatcher) Dispatch(ctx context.Context, name string) (any, error) {
	switch name {
	case CommandSyncNow:
		return SyncTriggered{Accepted: d.syncer.Trigger()}, nil
	case CommandExportNow:
		res, err := d.exporter.Export(ctx)
		if err != nil {
			return nil, err
		}
		return res, nil
	case CommandReportStats:
		st, err := d.stats.Statistics(ctx)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

// HandleCommand is the transport handler for kind "command". Payload:
// {"command": "<name>"}. Outcomes are logged; it never returns an error.
func (d *Dispatcher) HandleCommand(ctx context.Context, payload map[string]any) error {
	name, _ := payload["command"].(string)
	if name == "" {
		d.logger.Warn("command message without a command name", "payload", payload)
		return nil
	}

	result, err := d.Dispatch(ctx, name)
	switch {
	case errors.Is(err, ErrUnknownCommand):
		d.logger.Warn("unknown command ignored", "command", name)
	case err != nil:
		d.logger.Error("command failed", "command", name, "error", err)
	default:
		d.logger.Info("command executed", "command", name, "result", result)
	}
	return nil
}

// RegisterControl exposes every command as a control action.
func (d *Dispatcher) RegisterControl(r ControlRegistrar) {
	for _, name := range Commands {
		name := name
		r.Handle(name, func(ctx context.Context) (any, error) {
			return d.Dispatch(ctx, name)
		})
	}
}
