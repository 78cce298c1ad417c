package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// classColumns are the selected columns per class, after id and timestamp.
// COALESCE keeps rows from older databases with NULL columns scannable.
var classColumns = map[RecordClass]string{
	ClassScreenshots: `COALESCE(filepath, ''), COALESCE(file_size_bytes, 0), COALESCE(resolution, ''),
		COALESCE(active_window, ''), COALESCE(active_app, '')`,
	ClassClipboardEvents: `COALESCE(content_type, ''), COALESCE(content_preview, ''), COALESCE(encrypted_content, ''),
		COALESCE(content_hash, ''), COALESCE(source_app, '')`,
	ClassAppUsage: `COALESCE(app_name, ''), COALESCE(window_title, ''), COALESCE(duration_seconds, 0)`,
}

// SelectUnsynced returns up to limit unsynced records of class, ordered by
// event time ascending with id as the tie-breaker.
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) SelectUnsynced(ctx context.Context, class RecordClass, limit int) ([]Record, error) {
	if !class.Valid() {
		return nil, fmt.Errorf("select unsynced: unknown record class %q", class)
	}
	if limit <= 0 {
		return []Record{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`
		SELECT id, timestamp, %s
		FROM %s
		WHERE synced = 0
		ORDER BY timestamp ASC, id ASC
		LIMIT ?
	`, classColumns[class], class)

	return s.queryRecords(ctx, class, query, limit)
}

// RecentRecords returns the newest limit records of class regardless of
// sync state, ordered oldest first.
func (s *Store) RecentRecords(ctx context.Context, class RecordClass, limit int) ([]Record, error) {
	if !class.Valid() {
		return nil, fmt.Errorf("recent records: unknown record class %q", class)
	}
	if limit <= 0 {
		return []Record{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`
		SELECT * FROM (
			SELECT id, timestamp, %s
			FROM %s
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		) ORDER BY timestamp ASC, id ASC
	`, classColumns[class], class)

	return s.queryRecords(ctx, class, query, limit)
}

func (s *Store) queryRecords(ctx context.Context, class RecordClass, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", class, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, class)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", class, err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows, class RecordClass) (Record, error) {
	var (
		rec Record
		ts  string
	)
	rec.Class = class

	switch class {
	case ClassScreenshots:
		var (
			path, resolution, window, app string
			size                          int64
		)
		if err := rows.Scan(&rec.ID, &ts, &path, &size, &resolution, &window, &app); err != nil {
			return Record{}, fmt.Errorf("scan %s: %w", class, err)
		}
		rec.Fields = map[string]any{
			"filepath":        path,
			"file_size_bytes": size,
			"resolution":      resolution,
			"active_window":   window,
			"active_app":      app,
		}
	case ClassClipboardEvents:
		var contentType, preview, encrypted, hash, sourceApp string
		if err := rows.Scan(&rec.ID, &ts, &contentType, &preview, &encrypted, &hash, &sourceApp); err != nil {
			return Record{}, fmt.Errorf("scan %s: %w", class, err)
		}
		rec.Fields = map[string]any{
			"content_type":      contentType,
			"content_preview":   preview,
			"encrypted_content": encrypted,
			"content_hash":      hash,
			"source_app":        sourceApp,
		}
	case ClassAppUsage:
		var (
			appName, title string
			duration       float64
		)
		if err := rows.Scan(&rec.ID, &ts, &appName, &title, &duration); err != nil {
			return Record{}, fmt.Errorf("scan %s: %w", class, err)
		}
		rec.Fields = map[string]any{
			"app_name":         appName,
			"window_title":     title,
			"duration_seconds": duration,
		}
	default:
		return Record{}, fmt.Errorf("scan: unknown record class %q", class)
	}

	t, err := parseStoredTime(ts)
	if err != nil {
		return Record{}, fmt.Errorf("scan %s %d: %w", class, rec.ID, err)
	}
	rec.Timestamp = t
	return rec, nil
}

// SystemEvents returns the newest limit system events, ordered oldest first.
func (s *Store) SystemEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		return []Event{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT id, timestamp, event_type, severity, message, details
			FROM system_events
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		) ORDER BY timestamp ASC, id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query system events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			id      int64
			ts      string
			ev      Event
			details sql.NullString
		)
		if err := rows.Scan(&id, &ts, &ev.Type, &ev.Severity, &ev.Message, &details); err != nil {
			return nil, fmt.Errorf("scan system event: %w", err)
		}
		if ev.Timestamp, err = parseStoredTime(ts); err != nil {
			return nil, fmt.Errorf("scan system event %d: %w", id, err)
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
				return nil, fmt.Errorf("scan system event %d details: %w", id, err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate system events: %w", err)
	}
	return events, nil
}
