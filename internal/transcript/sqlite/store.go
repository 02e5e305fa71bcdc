package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/parleyhq/parley/internal/platform/storage/sqlitemigrate"
	"github.com/parleyhq/parley/internal/transcript"
	"github.com/parleyhq/parley/internal/transcript/sqlite/migrations"
	_ "modernc.org/sqlite"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func encodeToolCalls(calls []transcript.ToolCall) (string, error) {
	if len(calls) == 0 {
		return "", nil
	}
	encoded, err := json.Marshal(calls)
	if err != nil {
		return "", fmt.Errorf("marshal tool calls: %w", err)
	}
	return string(encoded), nil
}

func decodeToolCalls(value string) ([]transcript.ToolCall, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	var calls []transcript.ToolCall
	if err := json.Unmarshal([]byte(value), &calls); err != nil {
		return nil, fmt.Errorf("unmarshal tool calls: %w", err)
	}
	return calls, nil
}

// Store provides SQLite-backed persistence for committed turns.
type Store struct {
	sqlDB *sql.DB
}

// DB returns the underlying sql.DB instance.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Open opens a SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS, "")
}
