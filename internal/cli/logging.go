package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/roach88/emagent/internal/config"
)

// setupLogging builds the process logger from the log settings and the
// --verbose flag, installs it as the slog default and returns a closer for
// the log file. When cfg.Paths.Logs is set, output also goes to
// <logs>/<process>.log; a log directory that cannot be opened only costs
// the file copy.
func setupLogging(opts *RootOptions, cfg config.Config, process string, stderr io.Writer) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	switch {
	case opts.Verbose || cfg.Log.Level == "debug":
		level = slog.LevelDebug
	case cfg.Log.Level == "warn":
		level = slog.LevelWarn
	case cfg.Log.Level == "error":
		level = slog.LevelError
	}

	var out io.Writer = stderr
	var closer io.Closer = nopCloser{}
	var fileErr error
	if cfg.Paths.Logs != "" {
		f, err := openLogFile(cfg.Paths.Logs, process)
		if err != nil {
			fileErr = err
		} else {
			out = io.MultiWriter(stderr, f)
			closer = f
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	logger := slog.New(handler).With("process", process)
	slog.SetDefault(logger)

	if fileErr != nil {
		logger.Warn("log file unavailable, logging to stderr only", "error", fileErr)
	}
	return logger, closer
}

func openLogFile(dir, process string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, process+".log"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// signalContext returns a context canceled on SIGINT or SIGTERM, or when
// parent is done.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, unix.SIGINT, unix.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
