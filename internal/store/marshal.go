package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// normalizeText converts agent-supplied text to NFC so that equal strings
// from different input methods hash and compare equal.
func normalizeText(s string) string {
	return norm.NFC.String(s)
}

// eventTime returns t formatted for storage, substituting now for the zero
// time.
func eventTime(t time.Time, now func() time.Time) string {
	if t.IsZero() {
		t = now()
	}
	return FormatTimestamp(t)
}

// marshalDetails converts system event details to JSON TEXT, or NULL when
// there are none.
func marshalDetails(details map[string]any) (sql.NullString, error) {
	if len(details) == 0 {
		return sql.NullString{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(details); err != nil {
		return sql.NullString{}, fmt.Errorf("marshal details: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return sql.NullString{String: strings.TrimSpace(buf.String()), Valid: true}, nil
}

// parseStoredTime reads a timestamp column. Rows written before timestamps
// were normalized may carry any of the inbound layouts.
func parseStoredTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t.UTC(), nil
	}
	return ParseTimestamp(s)
}
