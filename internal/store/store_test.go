package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "monitoring.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file and parent directories were created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"screenshots", "clipboard_events", "app_usage", "system_events", "meta"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	// Parent "directory" is a regular file
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Open(filepath.Join(blocker, "test.db"))
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	cases := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1", // NORMAL
		"busy_timeout": "5000",
		"temp_store":   "2", // MEMORY
	}
	for name, want := range cases {
		if err := s.verifyPragma(name, want); err != nil {
			t.Error(err)
		}
	}
}

// Schema tests

func TestSchema_SyncColumns(t *testing.T) {
	s := createTestStore(t)

	for _, table := range syncedTables {
		columns := getTableColumns(t, s.db, table)
		for _, col := range []string{"id", "timestamp", "synced", "synced_at"} {
			if !contains(columns, col) {
				t.Errorf("%s missing column %q, got %v", table, col, columns)
			}
		}
	}

	if contains(getTableColumns(t, s.db, "system_events"), "synced") {
		t.Error("system_events must not carry sync state")
	}
}

func TestSchema_SyncIndexes(t *testing.T) {
	s := createTestStore(t)

	for _, table := range syncedTables {
		indexes := getTableIndexes(t, s.db, table)
		if !contains(indexes, "idx_"+table+"_synced") {
			t.Errorf("%s missing sync index, got %v", table, indexes)
		}
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to get user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	// Simulate a database created before sync tracking existed
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	legacy := []string{
		`CREATE TABLE screenshots (id INTEGER PRIMARY KEY AUTOINCREMENT, timestamp TEXT NOT NULL,
			filepath TEXT NOT NULL, file_size_bytes INTEGER, resolution TEXT, active_window TEXT, active_app TEXT)`,
		`CREATE TABLE clipboard_events (id INTEGER PRIMARY KEY AUTOINCREMENT, timestamp TEXT NOT NULL,
			content_type TEXT, content_preview TEXT, encrypted_content TEXT, content_hash TEXT, source_app TEXT)`,
		`CREATE TABLE app_usage (id INTEGER PRIMARY KEY AUTOINCREMENT, timestamp TEXT NOT NULL,
			app_name TEXT NOT NULL, window_title TEXT, duration_seconds REAL)`,
		`INSERT INTO app_usage (timestamp, app_name) VALUES ('2024-03-01T10:00:00.000000', 'legacy.exe')`,
	}
	for _, stmt := range legacy {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("legacy schema: %v", err)
		}
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range syncedTables {
		columns := getTableColumns(t, s.db, table)
		if !contains(columns, "synced") || !contains(columns, "synced_at") {
			t.Errorf("%s not migrated, columns: %v", table, columns)
		}
	}

	// Legacy rows become unsynced and remain readable
	recs, err := s.SelectUnsynced(context.Background(), ClassAppUsage, 10)
	if err != nil {
		t.Fatalf("SelectUnsynced() failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Fields["app_name"] != "legacy.exe" || recs[0].Fields["window_title"] != "" {
		t.Errorf("unexpected legacy records: %+v", recs)
	}
}

// Helper functions

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
