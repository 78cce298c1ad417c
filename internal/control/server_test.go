package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type statsReply struct {
	Counts map[string]int64 `json:"counts"`
	Size   int64            `json:"size_bytes"`
}

// startServer runs srv in the background and waits until its socket accepts.
func startServer(t *testing.T, srv *Server, socketPath string) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", socketPath)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	t.Cleanup(stop)
	return stop, errc
}

func socketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "control.sock")
}

func TestCall_ReturnsResult(t *testing.T) {
	path := socketPath(t)
	srv := NewServer(path, WithLogger(quietLogger()))
	srv.Handle("report_stats", func(context.Context) (any, error) {
		return statsReply{Counts: map[string]int64{"app_usage": 3}, Size: 4096}, nil
	})
	startServer(t, srv, path)

	var out statsReply
	require.NoError(t, Call(context.Background(), path, "report_stats", &out))
	assert.Equal(t, int64(3), out.Counts["app_usage"])
	assert.Equal(t, int64(4096), out.Size)
}

func TestCall_NilResultAndNilOut(t *testing.T) {
	path := socketPath(t)
	srv := NewServer(path, WithLogger(quietLogger()))
	var calls atomic.Int32
	srv.Handle("sync_now", func(context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	})
	startServer(t, srv, path)

	require.NoError(t, Call(context.Background(), path, "sync_now", nil))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCall_ActionError(t *testing.T) {
	path := socketPath(t)
	srv := NewServer(path, WithLogger(quietLogger()))
	srv.Handle("export_now", func(context.Context) (any, error) {
		return nil, errors.New("disk full")
	})
	startServer(t, srv, path)

	err := Call(context.Background(), path, "export_now", nil)
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "export_now", ae.Action)
	assert.Equal(t, "disk full", ae.Message)
}

func TestCall_UnknownAction(t *testing.T) {
	path := socketPath(t)
	srv := NewServer(path, WithLogger(quietLogger()))
	startServer(t, srv, path)

	err := Call(context.Background(), path, "reboot", nil)
	var ae *ActionError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Message, "unknown action")
}

func TestCall_PanicIsReported(t *testing.T) {
	path := socketPath(t)
	srv := NewServer(path, WithLogger(quietLogger()))
	srv.Handle("boom", func(context.Context) (any, error) { panic("kaboom") })
	startServer(t, srv, path)

	err := Call(context.Background(), path, "boom", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// still serving
	err = Call(context.Background(), path, "boom", nil)
	require.Error(t, err)
}

func TestCall_NoServer(t *testing.T) {
	err := Call(context.Background(), socketPath(t), "sync_now", nil)
	require.Error(t, err)
	var ae *ActionError
	assert.False(t, errors.As(err, &ae))
}

func TestServe_RemovesStaleSocket(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	srv := NewServer(path, WithLogger(quietLogger()))
	srv.Handle("ping", func(context.Context) (any, error) { return "pong", nil })
	startServer(t, srv, path)

	var out string
	require.NoError(t, Call(context.Background(), path, "ping", &out))
	assert.Equal(t, "pong", out)
}

func TestServe_RemovesSocketOnReturn(t *testing.T) {
	path := socketPath(t)
	srv := NewServer(path, WithLogger(quietLogger()))
	stop, done := startServer(t, srv, path)

	stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestServe_WaitsForInFlightAction(t *testing.T) {
	path := socketPath(t)
	srv := NewServer(path, WithLogger(quietLogger()))
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	srv.Handle("slow", func(context.Context) (any, error) {
		close(started)
		<-release
		finished.Store(true)
		return nil, nil
	})
	stop, done := startServer(t, srv, path)

	callErr := make(chan error, 1)
	go func() { callErr <- Call(context.Background(), path, "slow", nil) }()
	<-started

	stop()
	select {
	case <-done:
		t.Fatal("Serve returned with an action in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.True(t, finished.Load())
	require.NoError(t, <-callErr)
}

func TestHandle_DuplicatePanics(t *testing.T) {
	srv := NewServer(socketPath(t))
	srv.Handle("a", func(context.Context) (any, error) { return nil, nil })
	assert.Panics(t, func() {
		srv.Handle("a", func(context.Context) (any, error) { return nil, nil })
	})
	assert.Equal(t, 1, srv.Actions())
}
