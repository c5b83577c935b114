// Package sqlite implements the repository interfaces on SQLite.
//
// WHY modernc.org/sqlite?
// It is a pure-Go translation of SQLite — no CGo, no C compiler, trivial
// cross-compilation. The driver registers itself with database/sql under
// the name "sqlite" via the blank import below.
//
// The same database file holds both the user directory and the session
// table; for a single-process deployment that keeps operations to "copy
// one file" for backup.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and implements
// repository.UserRepository and repository.SessionRepository.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
// Use ":memory:" in tests.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Force an immediate connection so a bad path fails here, not on the
	// first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets reads proceed while a write is in flight — relevant because
	// the rankings refresh holds a write loop while /api/auth/me reads.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return db, nil
}

// Close closes the connection pool. Callers defer this next to New.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE TABLE IF NOT EXISTS keeps it
// idempotent — safe on every startup.
//
// intra_login is nullable-with-unique (a "sparse unique" in Mongo terms):
// users added by Codeforces handle alone have no intra identity yet, and
// SQLite treats NULLs as distinct in unique indexes, which is exactly the
// semantics we want.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id                TEXT PRIMARY KEY,
			intra_login       TEXT UNIQUE,
			email             TEXT NOT NULL DEFAULT '',
			intra_avatar      TEXT NOT NULL DEFAULT '',
			cf_handle         TEXT NOT NULL DEFAULT '',
			cf_rating         INTEGER NOT NULL DEFAULT 0,
			cf_rank           TEXT NOT NULL DEFAULT 'unrated',
			cf_max_rating     INTEGER NOT NULL DEFAULT 0,
			cf_max_rank       TEXT NOT NULL DEFAULT 'unrated',
			country           TEXT NOT NULL DEFAULT '',
			organization      TEXT NOT NULL DEFAULT '',
			first_name        TEXT NOT NULL DEFAULT '',
			last_name         TEXT NOT NULL DEFAULT '',
			cf_avatar         TEXT NOT NULL DEFAULT '',
			title_photo       TEXT NOT NULL DEFAULT '',
			deleted_cf_handle TEXT NOT NULL DEFAULT '',
			last_updated      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_users_cf_handle ON users(cf_handle);
		CREATE INDEX IF NOT EXISTS idx_users_cf_rating ON users(cf_rating);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL DEFAULT '',
			oauth_state   TEXT NOT NULL DEFAULT '',
			code_verifier TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at    DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}

	return nil
}
