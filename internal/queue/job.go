// Package queue is the durable priority queue of album jobs. Jobs live in the
// album_jobs table; ready jobs are claimed by descending priority and, among
// equal priorities, by insertion order.
package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateActive, StateCompleted, StateFailed:
		return true
	}
	return false
}

var (
	// ErrJobNotFound is returned when a job id does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobReady is returned by ClaimNext when no waiting job is available
	ErrNoJobReady = errors.New("no job ready")

	// ErrInvalidTransition is returned when a job is not in the state an update requires
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// File is one file payload carried by a job.
type File struct {
	Position int    `db:"position" json:"position"`
	Name     string `db:"name" json:"name"`
	Size     int64  `db:"size" json:"size"`
	MIMEType string `db:"mime_type" json:"mime_type"`
	Data     []byte `db:"payload" json:"-"`
}

// FileError records a file that could not be turned into a photo.
type FileError struct {
	File  string `json:"file"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// Job is a persisted unit of work describing one album to materialize.
type Job struct {
	Seq            int64      `db:"seq" json:"-"`
	ID             string     `db:"id" json:"job_id"`
	UserID         string     `db:"user_id" json:"user_id"`
	SessionID      string     `db:"session_id" json:"session_id"`
	EventName      string     `db:"event_name" json:"event_name"`
	AlbumName      string     `db:"album_name" json:"album_name"`
	Priority       int        `db:"priority" json:"priority"`
	State          State      `db:"state" json:"state"`
	WorkerID       *string    `db:"worker_id" json:"worker_id,omitempty"`
	Attempts       int        `db:"attempts" json:"attempts"`
	MaxAttempts    int        `db:"max_attempts" json:"max_attempts"`
	AvailableAt    time.Time  `db:"available_at" json:"available_at"`
	TotalFiles     int        `db:"total_files" json:"total_files"`
	ProcessedFiles int        `db:"processed_files" json:"processed_files"`
	AlbumID        *string    `db:"album_id" json:"album_id,omitempty"`
	FileErrorsJSON string     `db:"file_errors" json:"-"`
	ErrorMessage   string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt     *time.Time `db:"finished_at" json:"finished_at,omitempty"`

	Files []File `db:"-" json:"-"`
}

// FileErrors decodes the accumulated per-file failures.
func (j *Job) FileErrors() []FileError {
	var out []FileError
	if j.FileErrorsJSON == "" {
		return out
	}
	if err := json.Unmarshal([]byte(j.FileErrorsJSON), &out); err != nil {
		return []FileError{{Error: "unreadable file error list: " + err.Error()}}
	}
	return out
}

// NewJob describes a job to enqueue.
type NewJob struct {
	UserID      string
	SessionID   string
	EventName   string
	AlbumName   string
	Priority    int
	MaxAttempts int
	Files       []File
}

// Outcome is what a worker reports when it finishes an attempt.
type Outcome struct {
	AlbumID    string
	FileErrors []FileError
	Message    string
}

func encodeFileErrors(errs []FileError) (string, error) {
	if len(errs) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
