// Package store is the embedded relational persistence layer. It wraps a
// single modernc.org/sqlite database file in WAL mode, owns schema creation,
// and exposes one repository type per entity in internal/model. Every
// write path funnels through a single *sql.DB configured for one writer at
// a time (SetMaxOpenConns(1) on the write handle) so SQLite's own locking
// never has to arbitrate; readers use a separate, many-connection handle.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"mdbackup/internal/model"
)

// Store holds the two handles onto one SQLite database file: a
// single-connection writer and a multi-connection reader pool. This
// mirrors the single-writer/many-reader discipline SQLite's WAL mode is
// built for; acquiring the writer handle for anything but a write is a bug.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB
	path    string
}

// Open creates (if absent) and opens the database at path, applies the
// WAL/synchronous/foreign_keys pragmas, and runs idempotent schema
// creation. Safe to call against an existing database from a prior run.
func Open(path string) (*Store, error) {
	dsn := dsnWithPragmas(path)

	writeDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open write handle: %v", model.ErrStorageOpen, err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("%w: open read handle: %v", model.ErrStorageOpen, err)
	}
	readDB.SetMaxOpenConns(4)

	s := &Store{writeDB: writeDB, readDB: readDB, path: path}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// dsnWithPragmas attaches the durability pragmas to the DSN so the driver
// applies them on every pooled connection, not just the first: WAL
// journaling, NORMAL synchronous, in-memory temp store, a 64 MiB page
// cache, enforced referential integrity, and a busy timeout so a reader
// never errors out behind a checkpoint.
func dsnWithPragmas(path string) string {
	return path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)" +
		"&_pragma=cache_size(-65536)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"
}

// Close releases both handles. Safe to call once at process shutdown.
func (s *Store) Close() error {
	var firstErr error
	if err := s.writeDB.Close(); err != nil {
		firstErr = err
	}
	if err := s.readDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// WriteDB exposes the single-connection write handle for repositories that
// need raw transaction control (e.g. batch inserters, claim queries).
func (s *Store) WriteDB() *sql.DB { return s.writeDB }

// ReadDB exposes the multi-connection read handle for concurrent queries
// (progress polling, report generation) that must never block behind a
// writer's transaction.
func (s *Store) ReadDB() *sql.DB { return s.readDB }

const schemaSQL = `
CREATE TABLE IF NOT EXISTS project_settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	project_name TEXT NOT NULL DEFAULT '',
	hash_level TEXT NOT NULL DEFAULT 'SHA256',
	cpu_profile TEXT NOT NULL DEFAULT 'Balanced',
	target_path TEXT NOT NULL DEFAULT '',
	current_state TEXT NOT NULL DEFAULT 'Idle',
	verify_by_default INTEGER NOT NULL DEFAULT 0,
	archive_scanning_enabled INTEGER NOT NULL DEFAULT 0,
	archive_max_size_mb INTEGER NOT NULL DEFAULT 0,
	archive_nested_enabled INTEGER NOT NULL DEFAULT 0,
	archive_max_depth INTEGER NOT NULL DEFAULT 0,
	movie_hash_chunk_size_mb INTEGER NOT NULL DEFAULT 0,
	enabled_categories TEXT NOT NULL DEFAULT '',
	created_utc TEXT NOT NULL,
	last_modified_utc TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS scan_roots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	label TEXT NOT NULL DEFAULT '',
	root_type TEXT NOT NULL DEFAULT 'Unknown',
	is_enabled INTEGER NOT NULL DEFAULT 1,
	last_scan_utc TEXT,
	file_count INTEGER NOT NULL DEFAULT 0,
	total_bytes INTEGER NOT NULL DEFAULT 0,
	added_utc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS hashes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hash_algorithm TEXT NOT NULL,
	hash_bytes BLOB NOT NULL UNIQUE,
	hash_hex TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	partial_hash_info TEXT NOT NULL DEFAULT '',
	computed_utc TEXT NOT NULL,
	UNIQUE(hash_algorithm, hash_hex, partial_hash_info)
);

CREATE TABLE IF NOT EXISTS file_instances (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scan_root_id INTEGER NOT NULL REFERENCES scan_roots(id) ON DELETE CASCADE,
	relative_path TEXT NOT NULL,
	file_name TEXT NOT NULL,
	extension TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL,
	modified_utc TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'Discovered',
	category TEXT NOT NULL DEFAULT 'Other',
	hash_id INTEGER REFERENCES hashes(id),
	discovered_utc TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	UNIQUE(scan_root_id, relative_path)
);
CREATE INDEX IF NOT EXISTS idx_file_instances_hash ON file_instances(hash_id);
CREATE INDEX IF NOT EXISTS idx_file_instances_status ON file_instances(status);
CREATE INDEX IF NOT EXISTS idx_file_instances_identity ON file_instances(scan_root_id, relative_path, size_bytes, modified_utc);

CREATE TABLE IF NOT EXISTS folder_nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	parent_id INTEGER REFERENCES folder_nodes(id),
	display_name TEXT NOT NULL,
	proposed_relative_path TEXT NOT NULL,
	user_edited_name TEXT NOT NULL DEFAULT '',
	copy_enabled INTEGER NOT NULL DEFAULT 1,
	unique_count INTEGER NOT NULL DEFAULT 0,
	duplicate_count INTEGER NOT NULL DEFAULT 0,
	total_size_bytes INTEGER NOT NULL DEFAULT 0,
	why_explanation TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_folder_nodes_parent ON folder_nodes(parent_id);

CREATE TABLE IF NOT EXISTS unique_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	hash_id INTEGER NOT NULL UNIQUE REFERENCES hashes(id),
	representative_file_instance_id INTEGER NOT NULL REFERENCES file_instances(id),
	file_type_category TEXT NOT NULL DEFAULT 'Other',
	copy_enabled INTEGER NOT NULL DEFAULT 1,
	planned_folder_node_id INTEGER REFERENCES folder_nodes(id),
	planned_file_name TEXT NOT NULL DEFAULT '',
	copied_utc TEXT,
	verified_utc TEXT,
	duplicate_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_unique_files_folder ON unique_files(planned_folder_node_id);

CREATE TABLE IF NOT EXISTS copy_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	unique_file_id INTEGER NOT NULL UNIQUE REFERENCES unique_files(id) ON DELETE CASCADE,
	destination_full_path TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'Pending',
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	started_utc TEXT,
	completed_utc TEXT
);
CREATE INDEX IF NOT EXISTS idx_copy_jobs_status ON copy_jobs(status);
`

func (s *Store) migrate() error {
	if _, err := s.writeDB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("%w: schema migration: %v", model.ErrStorageIntegrity, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.writeDB.Exec(
		`INSERT OR IGNORE INTO project_settings (id, created_utc, last_modified_utc) VALUES (1, ?, ?)`,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("%w: seed settings row: %v", model.ErrStorageIntegrity, err)
	}
	return nil
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTimePtr(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
