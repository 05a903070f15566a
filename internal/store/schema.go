// Package store provides the SQLite-backed annotation state: append-chain
// entries, per-(namespace, target) heads, and per-remote synced tips.
package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS entries (
	id         TEXT PRIMARY KEY,
	namespace  TEXT NOT NULL,
	target     TEXT NOT NULL,
	payload_id TEXT NOT NULL,
	parent1    TEXT NOT NULL DEFAULT '',
	parent2    TEXT NOT NULL DEFAULT '',
	origin     TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_ns_target ON entries(namespace, target);

CREATE TABLE IF NOT EXISTS heads (
	namespace TEXT NOT NULL,
	target    TEXT NOT NULL,
	entry_id  TEXT NOT NULL,
	PRIMARY KEY (namespace, target)
);

CREATE TABLE IF NOT EXISTS remote_tips (
	remote    TEXT NOT NULL,
	namespace TEXT NOT NULL,
	target    TEXT NOT NULL,
	entry_id  TEXT NOT NULL,
	PRIMARY KEY (remote, namespace, target)
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// DB wraps a sql.DB with annotation-store operations.
type DB struct {
	conn      *sql.DB
	replicaID string
}

// Open opens (or creates) the SQLite database, applies the schema, and
// loads or generates the persistent replica id.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	db := &DB{conn: conn}
	if db.replicaID, err = db.loadReplicaID(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// loadReplicaID returns the stored replica id, generating one on first open.
func (db *DB) loadReplicaID() (string, error) {
	var id string
	err := db.conn.QueryRow(`SELECT value FROM meta WHERE key = 'replica_id'`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("store: load replica id: %w", err)
	}

	id = uuid.NewString()
	if _, err := db.conn.Exec(
		`INSERT INTO meta (key, value) VALUES ('replica_id', ?)
		 ON CONFLICT(key) DO NOTHING`, id); err != nil {
		return "", fmt.Errorf("store: save replica id: %w", err)
	}
	// Re-read in case a concurrent open won the insert.
	if err := db.conn.QueryRow(`SELECT value FROM meta WHERE key = 'replica_id'`).Scan(&id); err != nil {
		return "", fmt.Errorf("store: reload replica id: %w", err)
	}
	return id, nil
}

// ReplicaID returns the persistent id identifying this replica as the
// origin of locally-created entries.
func (db *DB) ReplicaID() string {
	return db.replicaID
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
