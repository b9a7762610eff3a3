// Package store owns the encrypted on-disk state: the events table, its
// full-text index, and the vector index. All pages are encrypted at rest;
// no plaintext mirror exists.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mutecomm/go-sqlcipher/v4"
	"golang.org/x/crypto/pbkdf2"

	keyerrors "github.com/hpungsan/keyai/internal/errors"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// DBFileName is the single encrypted database file under the data directory.
const DBFileName = "keyai.db"

const (
	keySalt       = "keyai.store.v1"
	keyIterations = 4096
	keyLen        = 32
)

// Store wraps the encrypted database. One process-wide writer (the persist
// worker) and pooled readers share it.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the encrypted database at
// baseDir/keyai.db. The page key is derived from secret; a wrong secret
// surfaces as a STORE_OPEN error on the key probe.
func Open(baseDir, secret string) (*Store, error) {
	s, err := open(baseDir, secret)
	if err != nil {
		return nil, keyerrors.NewStoreOpen(filepath.Join(baseDir, DBFileName), err)
	}
	return s, nil
}

func open(baseDir, secret string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	dbPath := filepath.Join(baseDir, DBFileName)
	dsn := fmt.Sprintf(
		"file:%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on",
		dbPath, DeriveKey(secret),
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Probe the key before anything else. With a wrong key the file reads
	// as garbage and this query fails.
	var n int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("key verification failed: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Per-connection tuning. journal_mode and synchronous ride the DSN so
	// every pooled connection gets them; these two are best-effort.
	if _, err := db.Exec("PRAGMA cache_size=10000; PRAGMA temp_store=MEMORY;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return &Store{db: db, path: dbPath}, nil
}

// DeriveKey stretches the user secret into the hex-encoded 256-bit page key.
// Deterministic: the same secret always opens the same file.
func DeriveKey(secret string) string {
	key := pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, keyLen, sha256.New)
	return hex.EncodeToString(key)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := getUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS events (
		  id           INTEGER PRIMARY KEY AUTOINCREMENT,
		  ts           INTEGER NOT NULL,
		  kind         TEXT NOT NULL DEFAULT 'text',
		  content      TEXT NOT NULL,
		  application  TEXT NOT NULL DEFAULT '',
		  window_title TEXT NOT NULL DEFAULT '',
		  created_at   INTEGER NOT NULL,
		  UNIQUE(ts, content, application)
		);

		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_application ON events(application);
		CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);

		CREATE VIRTUAL TABLE IF NOT EXISTS events_fts USING fts5(
			content,
			application,
			window_title,
			content='events',
			content_rowid='id'
		);

		CREATE TABLE IF NOT EXISTS events_vec (
		  event_id   INTEGER PRIMARY KEY REFERENCES events(id) ON DELETE CASCADE,
		  model_tag  TEXT NOT NULL,
		  dimension  INTEGER NOT NULL,
		  vector     BLOB NOT NULL,
		  created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_vec_model ON events_vec(model_tag);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}

		triggers := `
		CREATE TRIGGER IF NOT EXISTS events_fts_insert AFTER INSERT ON events BEGIN
			INSERT INTO events_fts(rowid, content, application, window_title)
			VALUES (new.id, new.content, new.application, new.window_title);
		END;
		CREATE TRIGGER IF NOT EXISTS events_fts_delete AFTER DELETE ON events BEGIN
			INSERT INTO events_fts(events_fts, rowid, content, application, window_title)
			VALUES ('delete', old.id, old.content, old.application, old.window_title);
		END;
		CREATE TRIGGER IF NOT EXISTS events_fts_update AFTER UPDATE ON events BEGIN
			INSERT INTO events_fts(events_fts, rowid, content, application, window_title)
			VALUES ('delete', old.id, old.content, old.application, old.window_title);
			INSERT INTO events_fts(rowid, content, application, window_title)
			VALUES (new.id, new.content, new.application, new.window_title);
		END;
		`
		if _, err := db.Exec(triggers); err != nil {
			return fmt.Errorf("migration 1 triggers failed: %w", err)
		}

		if err := setUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

func getUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

func setUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
