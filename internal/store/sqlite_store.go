package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// SQLiteDocumentStore persists the corpus in a SQLite database so the
// indexes can be rebuilt on startup without re-reading source files.
type SQLiteDocumentStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	lock   *flock.Flock // nil for in-memory stores
	closed bool
}

var _ DocumentStore = (*SQLiteDocumentStore)(nil)

// NewSQLiteDocumentStore opens or creates the store at path.
// An empty path creates an in-memory store.
func NewSQLiteDocumentStore(path string) (*SQLiteDocumentStore, error) {
	dsn := ":memory:"
	var lock *flock.Flock
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeStoreFailed,
				fmt.Sprintf("failed to create directory for %s", path), err)
		}
		dsn = path
		lock = flock.New(path + ".lock")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "failed to open document store", err)
	}

	// Single connection: keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "failed to set pragma", err)
		}
	}

	s := &SQLiteDocumentStore{db: db, path: path, lock: lock}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "failed to initialize schema", err)
	}
	return s, nil
}

func (s *SQLiteDocumentStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS documents (
		position INTEGER NOT NULL,
		id       TEXT PRIMARY KEY,
		text     TEXT NOT NULL,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_documents_position ON documents(position);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Replace swaps the stored corpus in one transaction. On-disk stores take an
// exclusive file lock for the duration so two writers never interleave.
func (s *SQLiteDocumentStore) Replace(ctx context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "document store is closed", nil)
	}

	if s.lock != nil {
		locked, err := s.lock.TryLock()
		if err != nil {
			return amerrors.New(amerrors.ErrCodeStoreFailed, "failed to acquire store lock", err)
		}
		if !locked {
			return amerrors.New(amerrors.ErrCodeStoreLocked,
				fmt.Sprintf("document store %s is being written by another process", s.path), nil).
				WithSuggestion("wait for the other index run to finish")
		}
		defer func() { _ = s.lock.Unlock() }()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "failed to clear documents", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents(position, id, text, metadata) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "failed to prepare insert", err)
	}
	defer stmt.Close()

	for i, doc := range docs {
		var meta any
		if len(doc.Metadata) > 0 {
			raw, err := json.Marshal(doc.Metadata)
			if err != nil {
				return amerrors.New(amerrors.ErrCodeInvalidDocument,
					fmt.Sprintf("document %s: metadata not encodable", doc.ID), err)
			}
			meta = string(raw)
		}
		if _, err := stmt.ExecContext(ctx, i, doc.ID, doc.Text, meta); err != nil {
			return amerrors.New(amerrors.ErrCodeStoreFailed,
				fmt.Sprintf("failed to store document %s", doc.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return amerrors.New(amerrors.ErrCodeStoreFailed, "failed to commit documents", err)
	}
	return nil
}

// All returns the stored corpus in insertion order.
func (s *SQLiteDocumentStore) All(ctx context.Context) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "document store is closed", nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, metadata FROM documents ORDER BY position`)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "failed to query documents", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		var meta sql.NullString
		if err := rows.Scan(&doc.ID, &doc.Text, &meta); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "failed to scan document", err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &doc.Metadata); err != nil {
				return nil, amerrors.New(amerrors.ErrCodeStoreFailed,
					fmt.Sprintf("document %s: corrupt metadata", doc.ID), err)
			}
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeStoreFailed, "failed to read documents", err)
	}
	return docs, nil
}

// Count returns the number of stored documents.
func (s *SQLiteDocumentStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, amerrors.New(amerrors.ErrCodeStoreFailed, "document store is closed", nil)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, amerrors.New(amerrors.ErrCodeStoreFailed, "failed to count documents", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteDocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
