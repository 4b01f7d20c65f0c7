package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrStorageUnavailable marks failures of the backing database: it could not
// be opened, created, read or written.
var ErrStorageUnavailable = errors.New("storage unavailable")

// DB wraps a sql.DB connection to the autodj SQLite database.
type DB struct {
	*sql.DB
	Path string
}

// pragmas are applied to every pooled connection through the DSN, so that
// busy_timeout holds for all writers, not just the first connection. It comes
// first so switching to WAL also waits on a locked file.
var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// DefaultDBPath returns the default database path: ~/.autodj/autodj.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".autodj", "autodj.db"), nil
}

// dsn builds the modernc DSN. Transactions start with BEGIN IMMEDIATE so a
// writer holds the lock before it reads anything it is about to update.
func dsn(path string) string {
	params := make([]string, 0, len(pragmas)+1)
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	params = append(params, "_txlock=immediate")
	return path + "?" + strings.Join(params, "&")
}

// Open opens (or creates) the SQLite database at the given path and runs
// migrations. It is safe to call repeatedly and from several processes.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create db dir: %w", ErrStorageUnavailable, err)
	}

	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrStorageUnavailable, err)
	}

	db := &DB{DB: sqlDB, Path: path}
	if err := db.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrStorageUnavailable, err)
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("%w: migrate: %w", ErrStorageUnavailable, err)
	}
	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
// Every pooled connection to ":memory:" would be its own database, so the
// pool is pinned to one connection.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(1)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, Path: ":memory:"}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}
