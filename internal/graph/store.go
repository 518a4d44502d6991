// Package graph provides the block graph: a SQLite-backed store, an
// in-memory block cache and the read-through lookup that joins them.
package graph

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS blocks (
	id         INTEGER PRIMARY KEY,
	text       TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS block_children (
	parent_id INTEGER NOT NULL,
	position  INTEGER NOT NULL,
	child_id  INTEGER NOT NULL,
	PRIMARY KEY (parent_id, position)
);

CREATE TABLE IF NOT EXISTS refs (
	id        INTEGER PRIMARY KEY,
	source_id INTEGER NOT NULL,
	target_id INTEGER NOT NULL,
	kind      INTEGER NOT NULL,
	position  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ref_properties (
	ref_id   INTEGER NOT NULL,
	position INTEGER NOT NULL,
	name     TEXT NOT NULL,
	kind     INTEGER NOT NULL,
	value    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (ref_id, position)
);

CREATE TABLE IF NOT EXISTS aliases (
	name     TEXT PRIMARY KEY,
	block_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS mirrors (
	block_id     INTEGER PRIMARY KEY,
	canonical_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tag_schema (
	block_id INTEGER NOT NULL,
	position INTEGER NOT NULL,
	name     TEXT NOT NULL,
	kind     INTEGER NOT NULL,
	sub_type TEXT NOT NULL DEFAULT '',
	choices  TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (block_id, name)
);

CREATE INDEX IF NOT EXISTS idx_refs_source ON refs(source_id);
CREATE INDEX IF NOT EXISTS idx_aliases_block ON aliases(block_id);
`

// Reference kinds as persisted in refs.kind.
const (
	refKindPlain = 1
	refKindTag   = 2
)

// Store wraps a sql.DB with block graph operations.
type Store struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("graph: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("graph: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("graph: apply core schema: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
