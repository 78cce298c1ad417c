package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// baseTime is the fixed "now" for store tests.
var baseTime = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory whose clock
// is pinned to baseTime.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time { return baseTime }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// insertAppUsage inserts an app usage row at baseTime+offset.
func insertAppUsage(t *testing.T, s *Store, app string, offset time.Duration) int64 {
	t.Helper()
	id, err := s.InsertAppUsage(context.Background(), AppUsage{
		Timestamp:       baseTime.Add(offset),
		AppName:         app,
		DurationSeconds: 1,
	})
	if err != nil {
		t.Fatalf("InsertAppUsage() failed: %v", err)
	}
	return id
}

func recordIDs(recs []Record) []int64 {
	ids := make([]int64, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids
}
