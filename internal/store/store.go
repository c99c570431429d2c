package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/fieldsync/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Fresh file, tables only
// 1 - queue_seq high-water mark seeded in meta
const currentSchemaVersion = 1

// metaQueueSeq is the meta key holding the last allocated pending_requests seq.
const metaQueueSeq = "queue_seq"

// ErrNotFound is returned when a keyed lookup matches no record.
var ErrNotFound = errors.New("not found")

// Partition names a logical record collection.
type Partition string

const (
	PartitionTasks           Partition = "tasks"
	PartitionQualityScores   Partition = "qualityScores"
	PartitionPendingRequests Partition = "pendingRequests"
	PartitionDeadLetters     Partition = "deadLetters"
)

// Partitions lists every partition cleared by Store.Clear.
var Partitions = []Partition{
	PartitionTasks,
	PartitionQualityScores,
	PartitionPendingRequests,
	PartitionDeadLetters,
}

func (p Partition) table() (string, error) {
	switch p {
	case PartitionTasks:
		return "tasks", nil
	case PartitionQualityScores:
		return "quality_scores", nil
	case PartitionPendingRequests:
		return "pending_requests", nil
	case PartitionDeadLetters:
		return "dead_letters", nil
	default:
		return "", fmt.Errorf("unknown partition %q", string(p))
	}
}

// Store is the durable local store. Safe for concurrent use; SQLite
// serialises writers on the single pooled connection.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path, creating any
// missing tables and indexes.
//
// This function is idempotent - safe to call multiple times. There is no
// fallback tier: if the file cannot be opened the error is returned.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storageErr("open", "", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageErr("open", "", fmt.Errorf("connect: %w", err))
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, storageErr("open", "", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, storageErr("open", "", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Clear deletes every record in every partition. The queue sequence
// high-water mark survives, so seq values are never reused.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("clear", "", err)
	}
	defer tx.Rollback()

	for _, p := range Partitions {
		table, _ := p.table()
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storageErr("clear", p, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("clear", "", err)
	}
	return nil
}

// ClearPartition deletes every record in one partition.
func (s *Store) ClearPartition(ctx context.Context, p Partition) error {
	table, err := p.table()
	if err != nil {
		return storageErr("clear", p, err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return storageErr("clear", p, err)
	}
	return nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 seeds the queue sequence high-water mark. Seeding from the
// current maximum keeps a pre-existing queue ahead of anything new.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO meta (key, value)
		SELECT ?, COALESCE(MAX(seq), 0) FROM pending_requests
	`, metaQueueSeq)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

func storageErr(op string, p Partition, err error) error {
	return &model.StorageError{Op: op, Partition: string(p), Err: err}
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
