package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `
	seq, id, user_id, session_id, event_name, album_name, priority, state,
	worker_id, attempts, max_attempts, available_at, total_files, processed_files,
	album_id, file_errors, error_message, created_at, updated_at, started_at, finished_at`

// Store handles all job persistence. Queries are written with '?' bindvars and
// rebound for the driver, so the same store runs on PostgreSQL and SQLite.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// lockClause makes concurrent claimers skip rows another transaction is
// claiming. SQLite serializes writers and has no row locks.
func (s *Store) lockClause() string {
	if s.db.DriverName() == "postgres" {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

// Enqueue persists a waiting job and its files in one transaction.
func (s *Store) Enqueue(ctx context.Context, nj NewJob) (*Job, error) {
	now := s.now()
	maxAttempts := nj.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	job := &Job{
		ID:          uuid.New().String(),
		UserID:      nj.UserID,
		SessionID:   nj.SessionID,
		EventName:   nj.EventName,
		AlbumName:   nj.AlbumName,
		Priority:    nj.Priority,
		State:       StateWaiting,
		MaxAttempts: maxAttempts,
		AvailableAt: now,
		TotalFiles:  len(nj.Files),
		CreatedAt:   now,
		UpdatedAt:   now,
		Files:       nj.Files,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO album_jobs (
			id, user_id, session_id, event_name, album_name, priority, state,
			attempts, max_attempts, available_at, total_files, processed_files,
			file_errors, error_message, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, 0, '[]', '', ?, ?)
	`),
		job.ID, job.UserID, job.SessionID, job.EventName, job.AlbumName, job.Priority, job.State,
		job.MaxAttempts, job.AvailableAt, job.TotalFiles, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	for i := range nj.Files {
		f := nj.Files[i]
		f.Position = i
		job.Files[i].Position = i
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO album_job_files (job_id, position, name, size, mime_type, payload)
			VALUES (?, ?, ?, ?, ?, ?)
		`), job.ID, f.Position, f.Name, f.Size, f.MIMEType, f.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to insert job file %q: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit enqueue: %w", err)
	}

	s.logger.Debug("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("session_id", job.SessionID),
		slog.Int("priority", job.Priority),
		slog.Int("files", job.TotalFiles),
	)

	return job, nil
}

// ClaimNext moves the highest-priority ready job to active for workerID and
// returns it with its files. Only one caller can win a given job.
func (s *Store) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	now := s.now()

	query := `
		UPDATE album_jobs
		SET state = ?,
		    worker_id = ?,
		    attempts = attempts + 1,
		    started_at = ?,
		    updated_at = ?
		WHERE id = (
			SELECT id FROM album_jobs
			WHERE state = ? AND available_at <= ?
			ORDER BY priority DESC, seq ASC
			LIMIT 1` + s.lockClause() + `
		)
		  AND state = ?
		RETURNING id
	`

	var jobID string
	err := s.db.QueryRowxContext(ctx, s.q(query),
		StateActive, workerID, now, now,
		StateWaiting, now,
		StateWaiting,
	).Scan(&jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoJobReady
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := s.db.SelectContext(ctx, &job.Files, s.q(`
		SELECT position, name, size, mime_type, payload
		FROM album_job_files
		WHERE job_id = ?
		ORDER BY position ASC
	`), jobID); err != nil {
		return nil, fmt.Errorf("failed to load job files: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", job.ID),
		slog.String("worker_id", workerID),
		slog.Int("priority", job.Priority),
		slog.Int("attempt", job.Attempts),
	)

	return job, nil
}

// UpdateProgress records how many files of an active job have been processed.
// It doubles as the job heartbeat.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, processed int) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE album_jobs
		SET processed_files = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`), processed, s.now(), jobID, StateActive)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return expectOneRow(res, jobID)
}

// Touch refreshes updated_at of an active job.
func (s *Store) Touch(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE album_jobs SET updated_at = ? WHERE id = ? AND state = ?
	`), s.now(), jobID, StateActive)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}
	return expectOneRow(res, jobID)
}

// Complete moves an active job to completed and drops its file payloads.
func (s *Store) Complete(ctx context.Context, jobID string, out Outcome) error {
	return s.finish(ctx, jobID, StateCompleted, out, true)
}

// Fail moves an active job to failed. File payloads are kept for inspection
// until retention cleanup.
func (s *Store) Fail(ctx context.Context, jobID string, out Outcome) error {
	return s.finish(ctx, jobID, StateFailed, out, false)
}

func (s *Store) finish(ctx context.Context, jobID string, state State, out Outcome, dropFiles bool) error {
	fileErrors, err := encodeFileErrors(out.FileErrors)
	if err != nil {
		return fmt.Errorf("failed to encode file errors: %w", err)
	}

	now := s.now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE album_jobs
		SET state = ?,
		    album_id = ?,
		    file_errors = ?,
		    error_message = ?,
		    finished_at = ?,
		    updated_at = ?
		WHERE id = ? AND state = ?
	`), state, nullable(out.AlbumID), fileErrors, out.Message, now, now, jobID, StateActive)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if err := expectOneRow(res, jobID); err != nil {
		return err
	}

	if dropFiles {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM album_job_files WHERE job_id = ?`), jobID); err != nil {
			return fmt.Errorf("failed to drop job files: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job status: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(state)),
	)
	return nil
}

// Requeue returns an active job to waiting, claimable again at availableAt.
func (s *Store) Requeue(ctx context.Context, jobID string, out Outcome, availableAt time.Time) error {
	fileErrors, err := encodeFileErrors(out.FileErrors)
	if err != nil {
		return fmt.Errorf("failed to encode file errors: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE album_jobs
		SET state = ?,
		    worker_id = NULL,
		    available_at = ?,
		    processed_files = 0,
		    file_errors = ?,
		    error_message = ?,
		    updated_at = ?
		WHERE id = ? AND state = ?
	`), StateWaiting, availableAt.UTC(), fileErrors, out.Message, s.now(), jobID, StateActive)
	if err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return expectOneRow(res, jobID)
}

// Get returns a job without its file payloads.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	err := s.db.GetContext(ctx, &job, s.q(`SELECT `+jobColumns+` FROM album_jobs WHERE id = ?`), jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// Filter narrows List results. Cursor continues after the last row of the
// previous page.
type Filter struct {
	UserID    string
	SessionID string
	State     State
	PageSize  int
	Cursor    *Cursor
}

// Cursor is a keyset position in (created_at, id) descending order.
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// List returns up to PageSize+1 jobs, newest first, so callers can detect a
// following page.
func (s *Store) List(ctx context.Context, filter Filter) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM album_jobs WHERE 1=1`
	args := []any{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}

	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, filter.State)
	}

	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND id < ?))"
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.CreatedAt, filter.Cursor.JobID)
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var jobs []Job
	if err := s.db.SelectContext(ctx, &jobs, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Stats counts jobs by state; an empty sessionID counts every job.
func (s *Store) Stats(ctx context.Context, sessionID string) (Stats, error) {
	query := `SELECT state, COUNT(*) AS count FROM album_jobs`
	args := []any{}
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " GROUP BY state"

	var rows []struct {
		State State `db:"state"`
		Count int   `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return Stats{}, fmt.Errorf("failed to count jobs: %w", err)
	}

	var stats Stats
	for _, r := range rows {
		stats.add(r.State, r.Count)
	}
	return stats, nil
}

// PurgeFinished deletes terminal jobs finished before cutoff.
func (s *Store) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin purge transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`
		DELETE FROM album_job_files
		WHERE job_id IN (
			SELECT id FROM album_jobs WHERE state IN (?, ?) AND finished_at < ?
		)
	`), StateCompleted, StateFailed, cutoff); err != nil {
		return 0, fmt.Errorf("failed to purge job files: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.q(`
		DELETE FROM album_jobs WHERE state IN (?, ?) AND finished_at < ?
	`), StateCompleted, StateFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return n, nil
}

// RecoverStale fails active jobs whose heartbeat stopped before cutoff; their
// worker is gone and nothing else would finish them.
func (s *Store) RecoverStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE album_jobs
		SET state = ?,
		    error_message = ?,
		    finished_at = ?,
		    updated_at = ?
		WHERE state = ? AND updated_at < ?
	`), StateFailed, "worker heartbeat lost", now, now, StateActive, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}
	return res.RowsAffected()
}

func expectOneRow(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s is not active", ErrInvalidTransition, jobID)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
