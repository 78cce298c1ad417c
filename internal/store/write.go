package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// InsertScreenshot stores screenshot metadata and returns the row id.
// A zero Timestamp is replaced with the store clock.
func (s *Store) InsertScreenshot(ctx context.Context, shot Screenshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO screenshots
		(timestamp, filepath, file_size_bytes, resolution, active_window, active_app)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		eventTime(shot.Timestamp, s.now),
		shot.Filepath,
		shot.FileSizeBytes,
		shot.Resolution,
		normalizeText(shot.ActiveWindow),
		normalizeText(shot.ActiveApp),
	)
	if err != nil {
		return 0, fmt.Errorf("write screenshot: %w", err)
	}
	return res.LastInsertId()
}

// InsertClipboardEvent stores a clipboard event and returns the row id.
func (s *Store) InsertClipboardEvent(ctx context.Context, ev ClipboardEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO clipboard_events
		(timestamp, content_type, content_preview, encrypted_content, content_hash, source_app)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		eventTime(ev.Timestamp, s.now),
		ev.ContentType,
		normalizeText(ev.ContentPreview),
		ev.EncryptedContent,
		ev.ContentHash,
		normalizeText(ev.SourceApp),
	)
	if err != nil {
		return 0, fmt.Errorf("write clipboard event: %w", err)
	}
	return res.LastInsertId()
}

// InsertAppUsage stores an application usage span and returns the row id.
func (s *Store) InsertAppUsage(ctx context.Context, u AppUsage) (int64, error) {
	if u.AppName == "" {
		return 0, fmt.Errorf("write app usage: app_name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO app_usage
		(timestamp, app_name, window_title, duration_seconds)
		VALUES (?, ?, ?, ?)
	`,
		eventTime(u.Timestamp, s.now),
		normalizeText(u.AppName),
		normalizeText(u.WindowTitle),
		u.DurationSeconds,
	)
	if err != nil {
		return 0, fmt.Errorf("write app usage: %w", err)
	}
	return res.LastInsertId()
}

// LogSystemEvent records a local diagnostic event stamped with the store
// clock. An empty severity defaults to info.
func (s *Store) LogSystemEvent(ctx context.Context, ev Event) error {
	if ev.Type == "" {
		return fmt.Errorf("write system event: type is required")
	}
	severity := ev.Severity
	if severity == "" {
		severity = SeverityInfo
	}

	details, err := marshalDetails(ev.Details)
	if err != nil {
		return fmt.Errorf("write system event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO system_events (timestamp, event_type, severity, message, details)
		VALUES (?, ?, ?, ?, ?)
	`, FormatTimestamp(s.now()), ev.Type, severity, ev.Message, details)
	if err != nil {
		return fmt.Errorf("write system event: %w", err)
	}
	return nil
}

// markSyncedChunk bounds the ids bound into one UPDATE statement.
const markSyncedChunk = 500

// MarkSynced flags the given rows of class as synced at the given time, in a
// single transaction. Rows already synced are left untouched, so the count
// of synced rows only ever grows. Returns the number of rows changed.
func (s *Store) MarkSynced(ctx context.Context, class RecordClass, ids []int64, at time.Time) (int64, error) {
	if !class.Valid() {
		return 0, fmt.Errorf("mark synced: unknown record class %q", class)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	stamp := FormatTimestamp(at)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mark synced: begin: %w", err)
	}
	defer tx.Rollback()

	// The id list is bound in chunks to stay under SQLite's host parameter limit.
	var total int64
	for start := 0; start < len(ids); start += markSyncedChunk {
		chunk := ids[start:min(start+markSyncedChunk, len(ids))]
		args := make([]any, 0, len(chunk)+1)
		args = append(args, stamp)
		for _, id := range chunk {
			args = append(args, id)
		}

		// class is validated above; table names cannot be bound parameters.
		res, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET synced = 1, synced_at = ? WHERE synced = 0 AND id IN (%s)`,
			class, strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ","),
		), args...)
		if err != nil {
			return 0, fmt.Errorf("mark synced %s: %w", class, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("mark synced %s: %w", class, err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mark synced %s: commit: %w", class, err)
	}
	return total, nil
}
