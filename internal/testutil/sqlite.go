// Package testutil provides SQLite-backed databases for package tests. The
// schema mirrors migrations/ with SQLite column types.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE albums (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    event_name  TEXT NOT NULL,
    name        TEXT NOT NULL,
    session_id  TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMP NOT NULL
);

CREATE TABLE photos (
    id           TEXT PRIMARY KEY,
    album_id     TEXT NOT NULL REFERENCES albums (id) ON DELETE CASCADE,
    user_id      TEXT NOT NULL,
    file_name    TEXT NOT NULL,
    storage_key  TEXT NOT NULL,
    url          TEXT NOT NULL,
    size         INTEGER NOT NULL,
    mime_type    TEXT NOT NULL,
    width        INTEGER NOT NULL DEFAULT 0,
    height       INTEGER NOT NULL DEFAULT 0,
    created_at   TIMESTAMP NOT NULL
);

CREATE TABLE album_jobs (
    seq              INTEGER PRIMARY KEY AUTOINCREMENT,
    id               TEXT NOT NULL UNIQUE,
    user_id          TEXT NOT NULL,
    session_id       TEXT NOT NULL,
    event_name       TEXT NOT NULL,
    album_name       TEXT NOT NULL,
    priority         INTEGER NOT NULL,
    state            TEXT NOT NULL,
    worker_id        TEXT,
    attempts         INTEGER NOT NULL DEFAULT 0,
    max_attempts     INTEGER NOT NULL DEFAULT 1,
    available_at     TIMESTAMP NOT NULL,
    total_files      INTEGER NOT NULL DEFAULT 0,
    processed_files  INTEGER NOT NULL DEFAULT 0,
    album_id         TEXT,
    file_errors      TEXT NOT NULL DEFAULT '[]',
    error_message    TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMP NOT NULL,
    updated_at       TIMESTAMP NOT NULL,
    started_at       TIMESTAMP,
    finished_at      TIMESTAMP
);

CREATE TABLE album_job_files (
    job_id     TEXT NOT NULL REFERENCES album_jobs (id) ON DELETE CASCADE,
    position   INTEGER NOT NULL,
    name       TEXT NOT NULL,
    size       INTEGER NOT NULL,
    mime_type  TEXT NOT NULL,
    payload    BLOB NOT NULL,
    PRIMARY KEY (job_id, position)
);
`

// NewSQLiteDB opens a file-backed SQLite database in a temp dir with the
// application schema applied. A single connection keeps writers serialized.
func NewSQLiteDB(t testing.TB) *sqlx.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "photobook.db")
	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}
