package store

import (
	"context"
	"fmt"
	"time"
)

// Retention bounds how long records are kept.
type Retention struct {
	// Window is the age after which synced event rows and system events are
	// deleted.
	Window time.Duration

	// Ceiling is the age after which event rows are deleted even if they were
	// never synced. Zero disables the ceiling.
	Ceiling time.Duration

	// ScreenshotWindow is the age after which screenshot metadata is deleted
	// regardless of sync state, matching the on-disk image sweep.
	ScreenshotWindow time.Duration
}

// CleanupResult counts rows removed by DeleteOlderThan.
type CleanupResult struct {
	Screenshots     int64 `json:"screenshots"`
	ClipboardEvents int64 `json:"clipboard_events"`
	AppUsage        int64 `json:"app_usage"`
	SystemEvents    int64 `json:"system_events"`
}

// Total returns the number of rows removed across all tables.
func (r CleanupResult) Total() int64 {
	return r.Screenshots + r.ClipboardEvents + r.AppUsage + r.SystemEvents
}

// DeleteOlderThan applies the retention policy relative to the store clock
// in a single transaction, then lets SQLite refresh its statistics.
//
// Unsynced event rows survive the retention window; only the ceiling removes
// them.
func (s *Store) DeleteOlderThan(ctx context.Context, r Retention) (CleanupResult, error) {
	if r.Window <= 0 {
		return CleanupResult{}, fmt.Errorf("delete older than: retention window must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := FormatTimestamp(now.Add(-r.Window))
	ceiling := ""
	if r.Ceiling > 0 {
		ceiling = FormatTimestamp(now.Add(-r.Ceiling))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("delete older than: begin: %w", err)
	}
	defer tx.Rollback()

	exec := func(query string, args ...any) (int64, error) {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}

	var result CleanupResult

	if r.ScreenshotWindow > 0 {
		shotCutoff := FormatTimestamp(now.Add(-r.ScreenshotWindow))
		if result.Screenshots, err = exec(`DELETE FROM screenshots WHERE timestamp < ?`, shotCutoff); err != nil {
			return CleanupResult{}, fmt.Errorf("delete screenshots: %w", err)
		}
	}

	// Empty ceiling never compares less than a timestamp, which disables it.
	eventQuery := `DELETE FROM %s WHERE timestamp < ? AND (synced = 1 OR timestamp < ?)`
	if result.ClipboardEvents, err = exec(fmt.Sprintf(eventQuery, ClassClipboardEvents), cutoff, ceiling); err != nil {
		return CleanupResult{}, fmt.Errorf("delete clipboard events: %w", err)
	}
	if result.AppUsage, err = exec(fmt.Sprintf(eventQuery, ClassAppUsage), cutoff, ceiling); err != nil {
		return CleanupResult{}, fmt.Errorf("delete app usage: %w", err)
	}
	if result.SystemEvents, err = exec(`DELETE FROM system_events WHERE timestamp < ?`, cutoff); err != nil {
		return CleanupResult{}, fmt.Errorf("delete system events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return CleanupResult{}, fmt.Errorf("delete older than: commit: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return result, fmt.Errorf("delete older than: optimize: %w", err)
	}
	return result, nil
}
