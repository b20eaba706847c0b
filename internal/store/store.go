package store

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrAccessDenied is returned when an account lookup is constrained to a
	// user that does not own it. A nonexistent account id produces the same
	// error so callers cannot probe for account existence.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound is returned for missing threads and emails.
	ErrNotFound = errors.New("not found")
)

// Store is the relational backing store for accounts, threads, emails and
// addresses, plus the event outbox.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the sqlite database at dbPath, enables WAL mode and
// applies the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
