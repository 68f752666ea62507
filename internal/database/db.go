package database

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/goodtune/playtime/internal/storage"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
	path string
}

// New opens the ledger database and runs migrations
func New(dbPath string) (*DB, error) {
	if dbPath != MemoryPath {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := storage.EnsureDir(dir); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases alive and serialises
	// writers; the ledger is single-threaded anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, dbPath); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{DB: db, path: dbPath}, nil
}

// Path returns the path the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func applyPragmas(db *sql.DB, dbPath string) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if dbPath != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// runMigrations applies all database migrations
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	migrations := getMigrations()
	versions := make([]int, 0, len(migrations))
	for version := range migrations {
		versions = append(versions, version)
	}
	sort.Ints(versions)

	for _, version := range versions {
		if version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(migrations[version]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", version, err)
		}
	}

	return nil
}

// getMigrations returns all database migrations. Migrations are additive
// only: databases written by older versions must stay readable.
func getMigrations() map[int]string {
	return map[int]string{
		1: migration001Ledger,
		2: migration002Indexes,
	}
}

// Migration schemas
const migration001Ledger = `
CREATE TABLE IF NOT EXISTS objects (
	object_id INTEGER NOT NULL,
	app_id TEXT UNIQUE NOT NULL,
	alias TEXT,
	PRIMARY KEY (object_id)
);

CREATE TABLE IF NOT EXISTS timeline (
	bucket INTEGER NOT NULL,
	object_id INTEGER NOT NULL,
	value INTEGER NOT NULL,
	PRIMARY KEY (bucket, object_id),
	FOREIGN KEY (object_id) REFERENCES objects (object_id)
);

CREATE TABLE IF NOT EXISTS events (
	timestamp INTEGER NOT NULL,
	object_id INTEGER NOT NULL,
	event_kind INTEGER NOT NULL, -- 0 running, 1 started, 2 stopped, 3 suspended, 4 resumed
	FOREIGN KEY (object_id) REFERENCES objects (object_id)
);

CREATE TABLE IF NOT EXISTS backup_groups (
	backup_id INTEGER NOT NULL,
	start_ts INTEGER NOT NULL,
	end_ts INTEGER NOT NULL,
	PRIMARY KEY (backup_id)
);

CREATE TABLE IF NOT EXISTS backup_events (
	backup_id INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	object_id INTEGER NOT NULL,
	event_kind INTEGER NOT NULL,
	FOREIGN KEY (backup_id) REFERENCES backup_groups (backup_id),
	FOREIGN KEY (object_id) REFERENCES objects (object_id)
);
`

const migration002Indexes = `
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(event_kind);
CREATE INDEX IF NOT EXISTS idx_backup_events_group ON backup_events(backup_id);
`
