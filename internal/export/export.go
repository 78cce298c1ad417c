// Package export writes point-in-time snapshots of recent records to disk.
//
// A snapshot is one self-contained document (JSON or MessagePack) holding the
// newest records of every class, written atomically next to a BLAKE3 digest
// sidecar so a copied export can be verified later.
package export

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"

	"github.com/roach88/emagent/internal/store"
)

// Format selects the snapshot encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// DefaultLimit is the per-class record limit.
const DefaultLimit = 500

// DigestSuffix is appended to the snapshot path for the digest sidecar.
const DigestSuffix = ".b3"

const stampLayout = "20060102T150405.000Z"

// Source provides the records to export.
type Source interface {
	RecentRecords(ctx context.Context, class store.RecordClass, limit int) ([]store.Record, error)
}

// Document is the snapshot content.
type Document struct {
	ExportedAt string                      `json:"exported_at"`
	ClientID   string                      `json:"client_id"`
	Records    map[string][]map[string]any `json:"records"`
}

// Result describes a written snapshot.
type Result struct {
	Path    string `json:"path"`
	Digest  string `json:"digest"`
	Records int    `json:"records"`
	Bytes   int64  `json:"bytes"`
}

// Exporter writes snapshots into a directory.
type Exporter struct {
	src      Source
	dir      string
	format   Format
	limit    int
	clientID string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithFormat sets the encoding. Default: FormatJSON.
func WithFormat(f Format) Option {
	return func(e *Exporter) {
		if f != "" {
			e.format = f
		}
	}
}

// WithLimit sets the per-class record limit. Default: 500.
func WithLimit(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.limit = n
		}
	}
}

// WithClientID stamps snapshots with the installation id.
func WithClientID(id string) Option {
	return func(e *Exporter) {
		e.clientID = id
	}
}

// WithNow sets the clock. Default: time.Now.
func WithNow(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an exporter writing into dir.
func New(src Source, dir string, opts ...Option) *Exporter {
	e := &Exporter{
		src:    src,
		dir:    dir,
		format: FormatJSON,
		limit:  DefaultLimit,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes one snapshot and its digest sidecar.
func (e *Exporter) Export(ctx context.Context) (Result, error) {
	now := e.now()
	doc := Document{
		ExportedAt: store.FormatTimestamp(now),
		ClientID:   e.clientID,
		Records:    make(map[string][]map[string]any),
	}

	total := 0
	for _, class := range store.Classes() {
		recs, err := e.src.RecentRecords(ctx, class, e.limit)
		if err != nil {
			return Result{}, fmt.Errorf("export %s: %w", class, err)
		}
		rows := make([]map[string]any, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, r.Map())
		}
		doc.Records[string(class)] = rows
		total += len(rows)
	}

	data, err := Encode(doc, e.format)
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(e.dir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create export directory: %w", err)
	}

	name := fmt.Sprintf("snapshot-%s.%s", now.UTC().Format(stampLayout), e.format)
	path := filepath.Join(e.dir, name)
	if err := writeFileAtomic(path, data); err != nil {
		return Result{}, err
	}

	digest := Digest(data)
	if err := writeFileAtomic(path+DigestSuffix, []byte(digest+"  "+name+"\n")); err != nil {
		return Result{}, err
	}

	e.logger.Info("export written", "path", path, "records", total, "bytes", len(data))
	return Result{Path: path, Digest: digest, Records: total, Bytes: int64(len(data))}, nil
}

// Encode renders doc in the given format.
func Encode(doc Document, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode export: %w", err)
		}
		return data, nil
	case FormatMsgpack:
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetSortMapKeys(true)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode export: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("encode export: unknown format %q", f)
	}
}

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify checks a snapshot file against its digest sidecar.
func Verify(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("verify export: %w", err)
	}
	sidecar, err := os.ReadFile(path + DigestSuffix)
	if err != nil {
		return fmt.Errorf("verify export: %w", err)
	}
	want, _, _ := bytes.Cut(sidecar, []byte(" "))
	if got := Digest(data); got != string(want) {
		return fmt.Errorf("verify export: digest mismatch for %s", filepath.Base(path))
	}
	return nil
}

// writeFileAtomic writes data to a temporary file in the target directory
// and renames it into place, so readers never see a partial snapshot.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.tmp")
	if err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}
