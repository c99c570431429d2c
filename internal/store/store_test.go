package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/roach88/fieldsync/internal/model"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Create database
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	// Reopen database
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	// Verify we can query it
	var count int
	err = s2.db.QueryRow("SELECT COUNT(*) FROM pending_requests").Scan(&count)
	if err != nil {
		t.Errorf("query failed: %v", err)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Open multiple times
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	// Final open should work
	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	// Verify schema is intact
	tables := []string{"tasks", "quality_scores", "pending_requests", "dead_letters", "meta"}
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
	// Try to open in non-existent directory
	path := "/nonexistent/dir/test.db"

	_, err := Open(path)
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	err := s.Close()
	if err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestClose_MultipleCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	// First close should succeed
	if err := s.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}

	// Second close should not panic (though may error)
	// We just verify it doesn't panic
	_ = s.Close()
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

// Schema table tests

func TestSchema_TasksTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "tasks")
	for _, col := range []string{"id", "status", "assigned_to", "doc"} {
		if !contains(columns, col) {
			t.Errorf("tasks table missing column %q", col)
		}
	}

	indexes := getTableIndexes(t, s.db, "tasks")
	for _, idx := range []string{"idx_tasks_status", "idx_tasks_assigned_to"} {
		if !contains(indexes, idx) {
			t.Errorf("tasks table missing index %q", idx)
		}
	}
}

func TestSchema_QualityScoresTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "quality_scores")
	for _, col := range []string{"id", "task_id", "doc"} {
		if !contains(columns, col) {
			t.Errorf("quality_scores table missing column %q", col)
		}
	}

	if !contains(getTableIndexes(t, s.db, "quality_scores"), "idx_quality_scores_task_id") {
		t.Error("quality_scores table missing index idx_quality_scores_task_id")
	}
}

func TestSchema_PendingRequestsTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "pending_requests")
	expected := []string{
		"id", "seq", "request_key", "url", "method", "headers", "body", "enqueued_at",
	}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("pending_requests table missing column %q", col)
		}
	}

	if !contains(getTableIndexes(t, s.db, "pending_requests"), "idx_pending_requests_enqueued_at") {
		t.Error("pending_requests table missing index idx_pending_requests_enqueued_at")
	}
}

func TestSchema_UserVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestSchema_QueueSeqSeeded(t *testing.T) {
	s := createTestStore(t)

	var value int64
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", metaQueueSeq).Scan(&value)
	if err != nil {
		t.Fatalf("queue_seq not seeded: %v", err)
	}
	if value != 0 {
		t.Errorf("queue_seq = %d, want 0", value)
	}
}

func TestOpen_ReturnsStorageError(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if !model.IsStorage(err) {
		t.Errorf("expected StorageError, got %T: %v", err, err)
	}
}

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
