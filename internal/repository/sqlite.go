package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opensource-finance/sentinel/internal/domain"
	_ "modernc.org/sqlite"
)

const defaultSQLitePath = "./sentinel.db"

// sqliteDSN builds the modernc.org/sqlite connection string.
// WAL and a busy timeout keep the ledger import and rule writes from
// tripping over concurrent readers.
func sqliteDSN(path string) string {
	if path == ":memory:" {
		// A shared cache keeps one in-memory database across pool connections.
		return "file::memory:?cache=shared&_pragma=busy_timeout(5000)"
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
}

// openSQLite opens a SQLite database (pure Go, no CGO).
func openSQLite(ctx context.Context, cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = defaultSQLitePath
	}

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database %s: %w", path, err)
	}
	return db, nil
}
