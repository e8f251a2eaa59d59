// Package batch accepts batch album submissions and either queues one job
// per album or materializes the albums inline.
package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/photobook-be/internal/album"
	"github.com/cuongbtq/photobook-be/internal/doorbell"
	"github.com/cuongbtq/photobook-be/internal/queue"
	"github.com/google/uuid"
)

// Error codes reported per album.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeEnqueueFailure = "ENQUEUE_FAILURE"
	CodeJobFailure     = "JOB_FAILURE"
)

type Mode string

const (
	ModeQueued Mode = "queued"
	ModeSync   Mode = "sync"
)

const (
	StatusQueued = "queued"
	StatusFailed = "failed"
)

// JobQueue is where queued albums go.
type JobQueue interface {
	Enqueue(ctx context.Context, nj queue.NewJob) (*queue.Job, error)
}

// Materializer creates albums inline.
type Materializer interface {
	Materialize(ctx context.Context, spec album.Spec, onProgress func(album.Progress)) (*album.Result, error)
}

type Config struct {
	MaxAlbums    int
	MaxFileBytes int64
	// MaxAttempts is stored on every queued job; 1 disables retries.
	MaxAttempts int
}

type Orchestrator struct {
	queue        JobQueue
	materializer Materializer
	ringer       doorbell.Ringer
	config       Config
	logger       *slog.Logger
}

func NewOrchestrator(q JobQueue, m Materializer, ringer doorbell.Ringer, config Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		queue:        q,
		materializer: m,
		ringer:       ringer,
		config:       config,
		logger:       logger,
	}
}

type Result struct {
	SessionID string `json:"session_id"`
	Mode      Mode   `json:"mode"`

	// queued mode
	Jobs        []QueuedAlbum `json:"jobs,omitempty"`
	QueuedCount int           `json:"queued_count"`

	// sync mode
	Albums []CreatedAlbum `json:"albums,omitempty"`
	Count  int            `json:"count"`

	Failures    []FailedAlbum `json:"failures"`
	FailedCount int           `json:"failed_count"`
	TotalAlbums int           `json:"total_albums"`
}

type QueuedAlbum struct {
	AlbumName string `json:"album_name"`
	JobID     string `json:"job_id,omitempty"`
	Priority  int    `json:"priority"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type CreatedAlbum struct {
	AlbumID    string            `json:"album_id"`
	Name       string            `json:"name"`
	PhotoCount int               `json:"photo_count"`
	FileErrors []album.FileError `json:"file_errors"`
}

type FailedAlbum struct {
	AlbumName string `json:"album_name"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

// Submit validates req and routes it. A *ValidationError means nothing was
// created; otherwise per-album failures are reported in the Result.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req, o.config.MaxAlbums); err != nil {
		return nil, err
	}

	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	result := &Result{
		SessionID:   req.SessionID,
		Failures:    []FailedAlbum{},
		TotalAlbums: len(req.Albums),
	}

	if req.useQueue() && req.hasFiles() {
		result.Mode = ModeQueued
		result.Jobs = []QueuedAlbum{}
		o.submitQueued(ctx, req, result)
	} else {
		result.Mode = ModeSync
		result.Albums = []CreatedAlbum{}
		o.submitSync(ctx, req, result)
	}

	result.FailedCount = len(result.Failures)

	o.logger.Info("Batch submitted",
		slog.String("session_id", result.SessionID),
		slog.String("user_id", req.UserID),
		slog.String("mode", string(result.Mode)),
		slog.Int("albums", result.TotalAlbums),
		slog.Int("failed", result.FailedCount),
	)
	return result, nil
}

func (o *Orchestrator) submitQueued(ctx context.Context, req Request, result *Result) {
	total := len(req.Albums)

	for i, in := range req.Albums {
		priority := total - i
		entry := QueuedAlbum{AlbumName: in.Name, Priority: priority}

		job, code, err := o.enqueueAlbum(ctx, req, in, priority)
		if err != nil {
			entry.Status = StatusFailed
			entry.Error = err.Error()
			result.Jobs = append(result.Jobs, entry)
			result.Failures = append(result.Failures, FailedAlbum{AlbumName: in.Name, Code: code, Error: err.Error()})
			continue
		}

		entry.JobID = job.ID
		entry.Status = StatusQueued
		result.Jobs = append(result.Jobs, entry)
		result.QueuedCount++

		if err := o.ringer.Ring(ctx, doorbell.Ring{JobID: job.ID, Priority: priority}); err != nil {
			o.logger.Warn("Failed to ring worker doorbell, workers will pick the job up on poll",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
		}
	}
}

func (o *Orchestrator) enqueueAlbum(ctx context.Context, req Request, in AlbumInput, priority int) (*queue.Job, string, error) {
	files, err := decodeFiles(in.Files, o.config.MaxFileBytes)
	if err != nil {
		return nil, CodeValidation, err
	}

	jobFiles := make([]queue.File, len(files))
	for i, f := range files {
		jobFiles[i] = queue.File{
			Position: f.Position,
			Name:     f.Name,
			Size:     int64(len(f.Data)),
			MIMEType: f.MIMEType,
			Data:     f.Data,
		}
	}

	job, err := o.queue.Enqueue(ctx, queue.NewJob{
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		EventName:   req.EventName,
		AlbumName:   in.Name,
		Priority:    priority,
		MaxAttempts: o.config.MaxAttempts,
		Files:       jobFiles,
	})
	if err != nil {
		o.logger.Error("Failed to enqueue album",
			slog.String("session_id", req.SessionID),
			slog.String("album", in.Name),
			slog.Any("error", err),
		)
		return nil, CodeEnqueueFailure, fmt.Errorf("failed to enqueue album: %w", err)
	}
	return job, "", nil
}

func (o *Orchestrator) submitSync(ctx context.Context, req Request, result *Result) {
	for _, in := range req.Albums {
		files, err := decodeFiles(in.Files, o.config.MaxFileBytes)
		if err != nil {
			result.Failures = append(result.Failures, FailedAlbum{AlbumName: in.Name, Code: CodeValidation, Error: err.Error()})
			continue
		}

		res, err := o.materializer.Materialize(ctx, album.Spec{
			UserID:    req.UserID,
			EventName: req.EventName,
			AlbumName: in.Name,
			SessionID: req.SessionID,
			Files:     files,
		}, nil)
		if err != nil {
			o.logger.Error("Failed to create album",
				slog.String("session_id", req.SessionID),
				slog.String("album", in.Name),
				slog.Any("error", err),
			)
			result.Failures = append(result.Failures, FailedAlbum{AlbumName: in.Name, Code: CodeJobFailure, Error: err.Error()})
			continue
		}

		result.Albums = append(result.Albums, CreatedAlbum{
			AlbumID:    res.Album.ID,
			Name:       res.Album.Name,
			PhotoCount: len(res.Photos),
			FileErrors: res.FileErrors,
		})
		result.Count++
	}
}
