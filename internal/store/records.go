package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// RecordClass names a kind of syncable record. The value is the table name
// and the data_type sent to the remote endpoint.
type RecordClass string

const (
	ClassClipboardEvents RecordClass = "clipboard_events"
	ClassAppUsage        RecordClass = "app_usage"
	ClassScreenshots     RecordClass = "screenshots"
)

// classOrder is the fixed order in which classes are synced and exported.
var classOrder = []RecordClass{ClassClipboardEvents, ClassAppUsage, ClassScreenshots}

// Classes returns the record classes in sync order.
func Classes() []RecordClass {
	return append([]RecordClass(nil), classOrder...)
}

// Valid reports whether c is one of the known classes.
func (c RecordClass) Valid() bool {
	for _, k := range classOrder {
		if c == k {
			return true
		}
	}
	return false
}

// TimestampLayout is the stored timestamp format. Always UTC, always six
// fractional digits, so string order matches time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// inboundLayouts are accepted by ParseTimestamp, most specific first. The
// zone-less forms are what agents send from a naive local clock; they are
// read as UTC.
var inboundLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an event time supplied by an agent.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range inboundLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: unrecognized format", s)
}

// Record is one stored row of a syncable class.
type Record struct {
	ID        int64
	Class     RecordClass
	Timestamp time.Time
	Fields    map[string]any
}

// Map flattens the record into id, timestamp and the class-specific fields.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.Fields)+2)
	maps.Copy(m, r.Fields)
	m["id"] = r.ID
	m["timestamp"] = FormatTimestamp(r.Timestamp)
	return m
}

// MarshalJSON renders the record as the flat object returned by Map.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// Screenshot is the metadata of a captured screen image. The image itself
// stays on disk at Filepath.
type Screenshot struct {
	Timestamp     time.Time
	Filepath      string
	FileSizeBytes int64
	Resolution    string
	ActiveWindow  string
	ActiveApp     string
}

// ClipboardEvent is one clipboard change. EncryptedContent is an opaque
// sealed token; the plaintext is never stored.
type ClipboardEvent struct {
	Timestamp        time.Time
	ContentType      string
	ContentPreview   string
	EncryptedContent string
	ContentHash      string
	SourceApp        string
}

// AppUsage is a span of time spent in one foreground application.
type AppUsage struct {
	Timestamp       time.Time
	AppName         string
	WindowTitle     string
	DurationSeconds float64
}

// Severity levels for system events.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Event is a local diagnostic entry (service start/stop, sync failures).
// Timestamp is filled in on read; writes are stamped with the store clock.
type Event struct {
	Timestamp time.Time
	Type      string
	Severity  string
	Message   string
	Details   map[string]any
}
