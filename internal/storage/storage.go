// Package storage provides the optional swap journal using SQLite.
// Order status is never cached here; the relayer is the only source of truth.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DBFileName is the journal file inside the data directory.
const DBFileName = "journal.db"

// Storage is the swap journal.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	sealer *sealer
}

// Config holds storage configuration.
type Config struct {
	DataDir string

	// SealKey is the input keying material for secret sealing, normally the
	// signer's private key bytes. Secrets cannot be stored without it.
	SealKey []byte
}

// New creates a new Storage instance.
func New(cfg *Config) (*Storage, error) {
	if len(cfg.SealKey) == 0 {
		return nil, errors.New("seal key is required")
	}
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	sl, err := newSealer(cfg.SealKey)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &Storage{
		db:     db,
		dbPath: dbPath,
		sealer: sl,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Storage) Path() string {
	return s.dbPath
}

func (s *Storage) initSchema() error {
	schema := `
	-- One row per swap attempt
	CREATE TABLE IF NOT EXISTS swaps (
		id TEXT PRIMARY KEY,
		order_hash TEXT UNIQUE,
		quote_id TEXT,
		wallet TEXT NOT NULL,

		src_chain_id INTEGER NOT NULL,
		dst_chain_id INTEGER NOT NULL,
		src_token TEXT NOT NULL,
		dst_token TEXT NOT NULL,
		amount TEXT NOT NULL,
		preset TEXT NOT NULL,
		secrets_count INTEGER NOT NULL,

		state TEXT NOT NULL DEFAULT 'created',
		last_status TEXT,
		failure_reason TEXT,

		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_swaps_state ON swaps(state);
	CREATE INDEX IF NOT EXISTS idx_swaps_created ON swaps(created_at);

	-- Secrets sealed with a key derived from the signer
	CREATE TABLE IF NOT EXISTS secrets (
		swap_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		secret_hash TEXT NOT NULL,
		sealed BLOB NOT NULL,
		shared_at INTEGER,

		PRIMARY KEY (swap_id, idx),
		FOREIGN KEY (swap_id) REFERENCES swaps(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_secrets_hash ON secrets(secret_hash);

	-- Observed status transitions, for auditing only
	CREATE TABLE IF NOT EXISTS status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		swap_id TEXT NOT NULL,
		status TEXT NOT NULL,
		observed_at INTEGER NOT NULL,

		FOREIGN KEY (swap_id) REFERENCES swaps(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_status_history_swap ON status_history(swap_id, observed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func timeToUnixOrNull(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func unixOrZero(v sql.NullInt64) time.Time {
	if !v.Valid || v.Int64 == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64, 0)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
