package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/photobook-be/internal/album"
	"github.com/cuongbtq/photobook-be/internal/notify"
	"github.com/cuongbtq/photobook-be/internal/queue"
)

// CodeJobFailure marks album_failed events.
const CodeJobFailure = "JOB_FAILURE"

// processJob runs one claimed job with timeout and heartbeat, then records
// its outcome. A shutdown does not interrupt it; the job timeout bounds it.
func (w *Worker) processJob(ctx context.Context, workerName string, job *queue.Job) {
	log := w.logger.With(
		slog.String("job_id", job.ID),
		slog.String("worker_name", workerName),
	)
	log.Info("Processing job",
		slog.String("album_name", job.AlbumName),
		slog.Int("files", job.TotalFiles),
		slog.Int("attempt", job.Attempts),
	)

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.ID, heartbeatDone)
	defer close(heartbeatDone)

	started := time.Now()
	res, err := w.executeJob(jobCtx, job)

	// status updates must land even if the job context is spent
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer finishCancel()

	if err != nil {
		w.handleFailure(finishCtx, log, job, res, err)
		return
	}

	out := queue.Outcome{AlbumID: res.Album.ID, FileErrors: toQueueFileErrors(res.FileErrors)}
	if updateErr := w.queue.Complete(finishCtx, job.ID, out); updateErr != nil {
		log.Error("Failed to update job status to completed",
			slog.String("error", updateErr.Error()),
		)
		return
	}

	log.Info("Job completed successfully",
		slog.String("album_id", res.Album.ID),
		slog.Int("photos", len(res.Photos)),
		slog.Int("file_errors", len(res.FileErrors)),
		slog.Duration("took", time.Since(started)),
	)

	w.publish(finishCtx, notify.NewEvent(notify.EventAlbumCompleted, job.SessionID, map[string]any{
		"job_id":      job.ID,
		"album_id":    res.Album.ID,
		"album_name":  job.AlbumName,
		"photo_count": len(res.Photos),
		"total_files": job.TotalFiles,
		"file_errors": res.FileErrors,
	}))
}

// executeJob materializes the album. Panics are turned into errors so one bad
// job cannot take the pool down.
func (w *Worker) executeJob(ctx context.Context, job *queue.Job) (res *album.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job panicked",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	files := make([]album.File, len(job.Files))
	for i, f := range job.Files {
		files[i] = album.File{Position: f.Position, Name: f.Name, MIMEType: f.MIMEType, Data: f.Data}
	}

	return w.materializer.Materialize(ctx, album.Spec{
		UserID:    job.UserID,
		EventName: job.EventName,
		AlbumName: job.AlbumName,
		SessionID: job.SessionID,
		Files:     files,
	}, func(p album.Progress) {
		if err := w.queue.UpdateProgress(ctx, job.ID, p.Processed); err != nil {
			w.logger.Warn("Failed to update job progress",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}

		w.publish(ctx, notify.NewEvent(notify.EventAlbumProgress, job.SessionID, map[string]any{
			"job_id":     job.ID,
			"album_name": job.AlbumName,
			"processed":  p.Processed,
			"total":      p.Total,
			"progress":   percent(p.Processed, p.Total),
			"file":       p.File,
			"failed":     p.Failed,
		}))
	})
}

// handleFailure requeues the job when the retry policy allows it and fails it
// otherwise.
func (w *Worker) handleFailure(ctx context.Context, log *slog.Logger, job *queue.Job, res *album.Result, jobErr error) {
	out := queue.Outcome{Message: jobErr.Error()}
	if res != nil {
		out.AlbumID = res.Album.ID
		out.FileErrors = toQueueFileErrors(res.FileErrors)
	}

	if job.Attempts < job.MaxAttempts {
		delay := w.retryDelay(job.Attempts)
		if err := w.queue.Requeue(ctx, job.ID, out, w.now().Add(delay)); err != nil {
			log.Error("Failed to requeue job",
				slog.String("error", err.Error()),
			)
			return
		}
		log.Warn("Job failed, will be retried",
			slog.String("error", jobErr.Error()),
			slog.Int("attempt", job.Attempts),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Duration("retry_after", delay),
		)
		return
	}

	if err := w.queue.Fail(ctx, job.ID, out); err != nil {
		log.Error("Failed to update job status to failed",
			slog.String("error", err.Error()),
		)
		return
	}

	log.Error("Job failed",
		slog.String("error", jobErr.Error()),
		slog.Int("attempts", job.Attempts),
	)

	data := map[string]any{
		"job_id":     job.ID,
		"album_name": job.AlbumName,
		"code":       CodeJobFailure,
		"error":      jobErr.Error(),
	}
	if out.AlbumID != "" {
		data["album_id"] = out.AlbumID
	}
	w.publish(ctx, notify.NewEvent(notify.EventAlbumFailed, job.SessionID, data))
}

// retryDelay is retry_base_delay * 2^(attempt-1).
func (w *Worker) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return w.retryBaseDelay * time.Duration(1<<uint(attempt-1))
}

// publish never fails the job; events are advisory.
func (w *Worker) publish(ctx context.Context, ev notify.Event) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Publish(ctx, ev); err != nil {
		w.logger.Warn("Failed to publish event",
			slog.String("type", string(ev.Type)),
			slog.String("session_id", ev.SessionID),
			slog.String("error", err.Error()),
		)
	}
}

// sendJobHeartbeat periodically refreshes the job so stale recovery leaves it alone
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.queue.Touch(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func toQueueFileErrors(errs []album.FileError) []queue.FileError {
	out := make([]queue.FileError, len(errs))
	for i, e := range errs {
		out[i] = queue.FileError{File: e.File, Code: e.Code, Error: e.Error}
	}
	return out
}

func percent(done, total int) int {
	if total == 0 {
		return 100
	}
	return done * 100 / total
}
