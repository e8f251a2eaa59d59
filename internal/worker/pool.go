package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/photobook-be/internal/queue"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop waits for a doorbell or a poll tick, then drains the queue.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	log := w.logger.With(slog.String("worker_name", workerName))
	log.Info("Worker goroutine started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// pick up whatever was queued while no worker was running
	w.drain(ctx, workerName)

	for {
		select {
		case <-w.stopChan:
			log.Info("Worker goroutine stopping - stopChan closed")
			return

		case <-ctx.Done():
			log.Info("Worker goroutine stopping - context canceled")
			return

		case msg := <-w.wakeChan:
			log.Debug("Worker woken by doorbell", slog.String("job_id", msg.jobID))
			w.drain(ctx, workerName)
			if msg.ack != nil {
				msg.ack()
			}

		case <-ticker.C:
			w.drain(ctx, workerName)
		}
	}
}

// drain claims and processes jobs until none is ready.
func (w *Worker) drain(ctx context.Context, workerName string) int {
	processed := 0

	for !w.stopping(ctx) {
		job, err := w.queue.ClaimNext(ctx, workerName)
		if err != nil {
			if !errors.Is(err, queue.ErrNoJobReady) && ctx.Err() == nil {
				w.logger.Error("Failed to claim job",
					slog.String("worker_name", workerName),
					slog.String("error", err.Error()),
				)
			}
			return processed
		}

		w.processJob(ctx, workerName, job)
		processed++
	}
	return processed
}
