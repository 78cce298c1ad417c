package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Stats summarizes the store for the report_stats command and the cleanup
// loop log line.
type Stats struct {
	Counts           map[string]int64 `json:"counts"`
	Unsynced         map[string]int64 `json:"unsynced"`
	SizeBytes        int64            `json:"size_bytes"`
	OldestScreenshot string           `json:"oldest_screenshot,omitempty"`
	NewestScreenshot string           `json:"newest_screenshot,omitempty"`
}

// Statistics returns row counts per table, unsynced counts per record class,
// the database size and the screenshot time range.
func (s *Store) Statistics(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Counts:   make(map[string]int64),
		Unsynced: make(map[string]int64),
	}

	tables := append(append([]string(nil), syncedTables...), "system_events")
	for _, table := range tables {
		var n int64
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", table, err)
		}
		stats.Counts[table] = n
	}

	for _, class := range classOrder {
		var n int64
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE synced = 0", class)).Scan(&n); err != nil {
			return Stats{}, fmt.Errorf("count unsynced %s: %w", class, err)
		}
		stats.Unsynced[string(class)] = n
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return Stats{}, fmt.Errorf("page count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return Stats{}, fmt.Errorf("page size: %w", err)
	}
	stats.SizeBytes = pageCount * pageSize

	var oldest, newest sql.NullString
	if err := s.db.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM screenshots").Scan(&oldest, &newest); err != nil {
		return Stats{}, fmt.Errorf("screenshot range: %w", err)
	}
	stats.OldestScreenshot = oldest.String
	stats.NewestScreenshot = newest.String

	return stats, nil
}
