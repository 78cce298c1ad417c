package collector

import (
	"fmt"
	"time"

	"github.com/roach88/emagent/internal/store"
)

// payload decodes fields of an inbound message data object.
type payload map[string]any

func (p payload) str(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %s: want string, got %T", key, v)
	}
	return s, nil
}

func (p payload) num(key string) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("field %s: want number, got %T", key, v)
	}
}

// timestamp returns the event time, or the zero time when absent so the
// store stamps the row with its own clock.
func (p payload) timestamp() (time.Time, error) {
	s, err := p.str("timestamp")
	if err != nil || s == "" {
		return time.Time{}, err
	}
	return store.ParseTimestamp(s)
}

func (p payload) screenshot() (store.Screenshot, error) {
	var (
		shot store.Screenshot
		err  error
		size float64
	)
	if shot.Timestamp, err = p.timestamp(); err != nil {
		return shot, err
	}
	if shot.Filepath, err = p.str("filepath"); err != nil {
		return shot, err
	}
	if size, err = p.num("file_size_bytes"); err != nil {
		return shot, err
	}
	shot.FileSizeBytes = int64(size)
	if shot.Resolution, err = p.str("resolution"); err != nil {
		return shot, err
	}
	if shot.ActiveWindow, err = p.str("active_window"); err != nil {
		return shot, err
	}
	if shot.ActiveApp, err = p.str("active_app"); err != nil {
		return shot, err
	}
	return shot, nil
}

func (p payload) clipboard() (store.ClipboardEvent, error) {
	var (
		ev  store.ClipboardEvent
		err error
	)
	if ev.Timestamp, err = p.timestamp(); err != nil {
		return ev, err
	}
	fields := []struct {
		key string
		dst *string
	}{
		{"content_type", &ev.ContentType},
		{"content_preview", &ev.ContentPreview},
		{"encrypted_content", &ev.EncryptedContent},
		{"content_hash", &ev.ContentHash},
		{"source_app", &ev.SourceApp},
	}
	for _, f := range fields {
		if *f.dst, err = p.str(f.key); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

func (p payload) appUsage() (store.AppUsage, error) {
	var (
		u   store.AppUsage
		err error
	)
	if u.Timestamp, err = p.timestamp(); err != nil {
		return u, err
	}
	if u.AppName, err = p.str("app_name"); err != nil {
		return u, err
	}
	if u.WindowTitle, err = p.str("window_title"); err != nil {
		return u, err
	}
	if u.DurationSeconds, err = p.num("duration_seconds"); err != nil {
		return u, err
	}
	return u, nil
}
