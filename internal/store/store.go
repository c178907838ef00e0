// Package store persists jobs, subtasks, and artifacts in a local SQLite
// database so a dashboard can reconstruct and stream pipeline progress.
//
// The store is the sole owner of all rows. Write calls swallow their own
// errors and emit a diagnostic log line instead: storage failures must never
// stop the pipeline engine from making forward progress. Reads return errors
// normally.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/conductor/internal/logging"
)

// timeLayout is how timestamps are stored. RFC 3339 in UTC with a fixed
// nine-digit fraction sorts lexicographically, which the artifact ordering
// queries rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id      TEXT PRIMARY KEY,
	repo_root   TEXT NOT NULL DEFAULT '',
	base_branch TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	user_task   TEXT NOT NULL DEFAULT '',
	push_result INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subtasks (
	job_id          TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	subtask_id      TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	parallel_group  TEXT NOT NULL DEFAULT '',
	worktree        TEXT NOT NULL DEFAULT '',
	branch          TEXT NOT NULL DEFAULT '',
	summary         TEXT NOT NULL DEFAULT '',
	important_files TEXT NOT NULL DEFAULT '[]',
	error           TEXT NOT NULL DEFAULT '',
	last_reasoning  TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	started_at      TEXT,
	finished_at     TEXT,
	updated_at      TEXT NOT NULL,
	PRIMARY KEY (job_id, subtask_id)
);

CREATE TABLE IF NOT EXISTS artifacts (
	artifact_id TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES jobs(job_id) ON DELETE CASCADE,
	type        TEXT NOT NULL,
	label       TEXT NOT NULL DEFAULT '',
	subtask_id  TEXT,
	created_at  TEXT NOT NULL,
	data        TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_artifacts_job_created ON artifacts(job_id, created_at);
CREATE INDEX IF NOT EXISTS idx_subtasks_job ON subtasks(job_id);
`

// Store is the SQLite-backed durable state store.
type Store struct {
	db   *sql.DB
	path string
	log  *logging.Logger

	// One writer at a time; readers go through WAL.
	writeMu sync.Mutex
}

// Open opens (creating if needed) the store at path. WAL journaling and
// foreign keys are enabled at open so concurrent readers see consistent
// snapshots while the engine writes.
func Open(path string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NopLogger()
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, path: path, log: log}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ForJob returns a JobWriter scoped to one job. Stage tools and the engine
// write through it; every call is one transaction.
func (s *Store) ForJob(meta JobMeta) *JobWriter {
	return &JobWriter{store: s, meta: meta}
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// now returns the current time in stored form.
func now() string {
	return time.Now().UTC().Format(timeLayout)
}

// parseTime decodes a stored timestamp, returning the zero time on failure.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
