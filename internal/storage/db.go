package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database holding location history, safe zones and
// the alert log for one family.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the SQLite database in the given directory.
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "data.db")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS locations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id     TEXT NOT NULL,
			latitude    REAL NOT NULL,
			longitude   REAL NOT NULL,
			accuracy    REAL DEFAULT 0,
			altitude    REAL DEFAULT 0,
			speed       REAL DEFAULT 0,
			heading     REAL DEFAULT 0,
			battery     INTEGER DEFAULT -1,
			is_charging INTEGER DEFAULT 0,
			captured_at DATETIME NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_locations_user
			ON locations (user_id, captured_at DESC);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create locations table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS zones (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			latitude        REAL NOT NULL,
			longitude       REAL NOT NULL,
			radius_meters   REAL NOT NULL,
			notify_on_enter INTEGER DEFAULT 1,
			notify_on_exit  INTEGER DEFAULT 1,
			active          INTEGER DEFAULT 1,
			created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create zones table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			kind       TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			user_name  TEXT DEFAULT '',
			zone_id    TEXT DEFAULT '',
			zone_name  TEXT DEFAULT '',
			action     TEXT DEFAULT '',
			detail     TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_alerts_created
			ON alerts (created_at DESC);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create alerts table: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Path returns the filesystem path of the database file.
func (d *DB) Path() string {
	return d.path
}

// Close closes the underlying database.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Close()
}
