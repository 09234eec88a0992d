// Package store is canopy's on-disk data-access layer: file metadata, node
// and reference postings, FTS5 full-text indexes, and the feedback log. It
// speaks SQLite directly (mattn/go-sqlite3) with WAL journaling so readers
// never block behind the single writer, following the connection-string
// idiom the teacher repo established for its own SQLite store.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is bumped whenever the DDL below changes shape. A mismatch
// against the persisted value in metadata triggers a controlled rebuild
// (spec §7 SchemaMismatch) rather than a crash on malformed rows.
const schemaVersion = 1

// allowedTokenizers whitelists the FTS5 tokenizer names accepted from
// config, since the DDL below has to string-interpolate the tokenizer name
// (FTS5 doesn't accept it as a bound parameter).
var allowedTokenizers = map[string]bool{
	"unicode61": true,
	"ascii":     true,
	"porter":    true,
	"trigram":   true,
}

// Store is canopy's SQLite-backed index: file metadata, nodes, refs, FTS5
// shadow tables, and the feedback log.
type Store struct {
	db *sql.DB
	// writeMu serializes batch commits. SQLite already serializes writers
	// internally, but holding an explicit mutex lets the pipeline reason
	// about "at most one indexing task per file in flight" (spec I5) without
	// relying on SQLITE_BUSY retries.
	writeMu sync.Mutex
}

// Open opens (creating if absent) a SQLite database at dbPath with WAL
// journaling, foreign keys, a busy timeout, and a 256MiB mmap window for
// reads, then ensures the schema is current.
func Open(dbPath string, tokenizer string) (*Store, error) {
	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA mmap_size = 268435456"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set mmap_size: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(tokenizer); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the underlying *sql.DB, for callers (e.g. the CLI's `status`
// command) that need ad-hoc access outside the exposed operations.
func (s *Store) DB() *sql.DB { return s.db }

// SnapshotTo writes a consistent, point-in-time copy of the database to
// destPath using SQLite's VACUUM INTO, which operates against the engine's
// own consistent view rather than raw file bytes, so it's safe to run
// against a WAL-mode database with concurrent readers in flight. Used by
// the service layer to build a shadow index for reindexing without ever
// touching the live, currently-queryable file (spec §4.9).
func (s *Store) SnapshotTo(destPath string) error {
	if _, err := s.db.Exec(`VACUUM INTO ?`, destPath); err != nil {
		return fmt.Errorf("store: snapshot to %s: %w", destPath, err)
	}
	return nil
}

func (s *Store) migrate(tokenizer string) error {
	if tokenizer == "" {
		tokenizer = "unicode61"
	}
	if !allowedTokenizers[tokenizer] {
		tokenizer = "unicode61"
	}

	if _, err := s.db.Exec(baseSchemaDDL); err != nil {
		return fmt.Errorf("store: migrate base schema: %w", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(node_id UNINDEXED, content, tokenize=%q)`, tokenizer)); err != nil {
		return fmt.Errorf("store: migrate fts_content: %w", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_symbol USING fts5(node_id UNINDEXED, name, tokenize=%q)`, tokenizer)); err != nil {
		return fmt.Errorf("store: migrate fts_symbol: %w", err)
	}

	var stored string
	row := s.db.QueryRow(`SELECT value FROM metadata WHERE key = 'schema_version'`)
	_ = row.Scan(&stored) // absent on first run; stored stays ""

	if stored == "" {
		_, err := s.db.Exec(`INSERT OR REPLACE INTO metadata(key, value) VALUES ('schema_version', ?)`, fmt.Sprint(schemaVersion))
		return err
	}
	if stored != fmt.Sprint(schemaVersion) {
		if err := s.rebuild(tokenizer); err != nil {
			return fmt.Errorf("store: rebuild after schema mismatch: %w", err)
		}
	}
	return nil
}

// rebuild drops and recreates every canopy-owned table. Called only when
// the persisted schema_version disagrees with this binary's schemaVersion.
func (s *Store) rebuild(tokenizer string) error {
	drops := []string{
		"DROP TABLE IF EXISTS feedback_expand",
		"DROP TABLE IF EXISTS feedback_query_handle",
		"DROP TABLE IF EXISTS feedback_query",
		"DROP TABLE IF EXISTS refs",
		"DROP TABLE IF EXISTS fts_symbol",
		"DROP TABLE IF EXISTS fts_content",
		"DROP TABLE IF EXISTS nodes",
		"DROP TABLE IF EXISTS file_blobs",
		"DROP TABLE IF EXISTS files",
		"DROP TABLE IF EXISTS metadata",
	}
	for _, q := range drops {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	if _, err := s.db.Exec(baseSchemaDDL); err != nil {
		return err
	}
	if _, err := s.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE fts_content USING fts5(node_id UNINDEXED, content, tokenize=%q)`, tokenizer)); err != nil {
		return err
	}
	if _, err := s.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE fts_symbol USING fts5(node_id UNINDEXED, name, tokenize=%q)`, tokenizer)); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO metadata(key, value) VALUES ('schema_version', ?)`, fmt.Sprint(schemaVersion))
	return err
}

const baseSchemaDDL = `
CREATE TABLE IF NOT EXISTS metadata (
  key   TEXT PRIMARY KEY,
  value TEXT
);

CREATE TABLE IF NOT EXISTS files (
  path     TEXT PRIMARY KEY,
  mtime    INTEGER NOT NULL,
  size     INTEGER NOT NULL,
  hash     TEXT NOT NULL,
  last_gen INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS file_blobs (
  path    TEXT PRIMARY KEY REFERENCES files(path) ON DELETE CASCADE,
  content BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
  id         INTEGER PRIMARY KEY,
  file_path  TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
  node_type  TEXT NOT NULL,
  name       TEXT,
  parent     TEXT,
  qualifier  TEXT,
  span_start INTEGER NOT NULL,
  span_end   INTEGER NOT NULL,
  line_start INTEGER NOT NULL,
  line_end   INTEGER NOT NULL,
  tokens     INTEGER NOT NULL,
  handle_id  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_handle ON nodes(handle_id);
CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(file_path);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);
CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent);

CREATE TABLE IF NOT EXISTS refs (
  id               INTEGER PRIMARY KEY,
  file_path        TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
  span_start       INTEGER NOT NULL,
  span_end         INTEGER NOT NULL,
  line_start       INTEGER NOT NULL,
  line_end         INTEGER NOT NULL,
  name             TEXT NOT NULL,
  qualifier        TEXT,
  ref_type         TEXT NOT NULL,
  source_handle_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_refs_name ON refs(name);
CREATE INDEX IF NOT EXISTS idx_refs_file ON refs(file_path);

CREATE TABLE IF NOT EXISTS feedback_query (
  id              INTEGER PRIMARY KEY,
  fingerprint     TEXT NOT NULL,
  pattern_summary TEXT,
  glob            TEXT,
  ts              INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback_query_handle (
  id        INTEGER PRIMARY KEY,
  query_id  INTEGER NOT NULL REFERENCES feedback_query(id),
  handle_id TEXT NOT NULL,
  node_type TEXT NOT NULL,
  glob      TEXT,
  ts        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fqh_handle ON feedback_query_handle(handle_id);
CREATE INDEX IF NOT EXISTS idx_fqh_nodetype_glob ON feedback_query_handle(node_type, glob);

CREATE TABLE IF NOT EXISTS feedback_expand (
  id        INTEGER PRIMARY KEY,
  handle_id TEXT NOT NULL,
  accepted  INTEGER NOT NULL,
  ts        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fe_handle ON feedback_expand(handle_id);
`

// GetMetadata reads a single metadata key, returning "" if absent.
func (s *Store) GetMetadata(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// SetMetadata upserts a single metadata key.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO metadata(key, value) VALUES (?, ?)`, key, value)
	return err
}

// TouchFileMTime refreshes a file's stored mtime/size without touching its
// hash, nodes, or refs, for the skip policy's case where a mtime mismatch
// resolved to an unchanged content hash and only the recorded mtime is
// stale.
func (s *Store) TouchFileMTime(path string, mtime, size int64) error {
	_, err := s.db.Exec(`UPDATE files SET mtime = ?, size = ? WHERE path = ?`, mtime, size, path)
	return err
}
