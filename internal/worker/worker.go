package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/photobook-be/internal/album"
	"github.com/cuongbtq/photobook-be/internal/notify"
	"github.com/cuongbtq/photobook-be/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobQueue is the part of the job store the worker drives.
type JobQueue interface {
	ClaimNext(ctx context.Context, workerID string) (*queue.Job, error)
	UpdateProgress(ctx context.Context, jobID string, processed int) error
	Touch(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, out queue.Outcome) error
	Fail(ctx context.Context, jobID string, out queue.Outcome) error
	Requeue(ctx context.Context, jobID string, out queue.Outcome, availableAt time.Time) error
}

// Materializer turns a job into an album.
type Materializer interface {
	Materialize(ctx context.Context, spec album.Spec, onProgress func(album.Progress)) (*album.Result, error)
}

// DeliverySource yields doorbell deliveries. *rabbitmq.Client is one.
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	WorkerID          string
	Queue             JobQueue
	Materializer      Materializer
	Publisher         notify.Publisher
	Doorbell          DeliverySource // optional, polling alone also works
	Concurrency       int
	JobTimeout        time.Duration
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	RetryBaseDelay    time.Duration
}

// wake asks one pool goroutine to drain the queue. ack, when set, settles the
// doorbell delivery that caused it once the drain is over.
type wake struct {
	jobID string
	ack   func()
}

// Worker represents the background job worker
type Worker struct {
	logger            *slog.Logger
	workerID          string
	queue             JobQueue
	materializer      Materializer
	publisher         notify.Publisher
	doorbell          DeliverySource
	concurrency       int
	jobTimeout        time.Duration
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	retryBaseDelay    time.Duration
	now               func() time.Time

	wakeChan chan wake
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:            cfg.Logger,
		workerID:          cfg.WorkerID,
		queue:             cfg.Queue,
		materializer:      cfg.Materializer,
		publisher:         cfg.Publisher,
		doorbell:          cfg.Doorbell,
		concurrency:       cfg.Concurrency,
		jobTimeout:        cfg.JobTimeout,
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		retryBaseDelay:    cfg.RetryBaseDelay,
		now:               func() time.Time { return time.Now().UTC() },
		stopChan:          make(chan struct{}),
	}

	if w.concurrency <= 0 {
		w.concurrency = 1
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 10 * time.Minute
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 5 * time.Second
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = 30 * time.Second
	}
	if w.retryBaseDelay <= 0 {
		w.retryBaseDelay = 5 * time.Second
	}
	if w.workerID == "" {
		w.workerID = "worker"
	}

	w.wakeChan = make(chan wake, w.concurrency)
	return w
}

// Start spawns the pool and, when a doorbell is configured, the dispatcher
// feeding it. It returns once everything is running; Stop waits for it.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("poll_interval", w.pollInterval),
	)

	if w.doorbell != nil {
		deliveries, err := w.doorbell.Consume(w.workerID)
		if err != nil {
			return fmt.Errorf("failed to start doorbell consumer: %w", err)
		}
		w.wg.Add(1)
		go w.startMessageDispatcher(ctx, deliveries)
	}

	w.spawnWorkerPool(ctx)
	return nil
}

// Stop gracefully stops the worker. Jobs already running are finished first.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-w.stopChan:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
