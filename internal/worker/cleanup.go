package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Maintenance is the job store housekeeping the cleaner runs.
type Maintenance interface {
	PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error)
	RecoverStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type CleanupConfig struct {
	Schedule   string        // cron spec, e.g. "*/10 * * * *" or "@every 10m"
	Retention  time.Duration // how long terminal jobs are kept
	StaleAfter time.Duration // active jobs silent this long are failed
}

// Cleaner purges old terminal jobs and fails jobs whose worker vanished.
type Cleaner struct {
	store  Maintenance
	config CleanupConfig
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time
}

func NewCleaner(store Maintenance, config CleanupConfig, logger *slog.Logger) (*Cleaner, error) {
	c := &Cleaner{
		store:  store,
		config: config,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	cl := cronLogger{logger: logger}
	c.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	if _, err := c.cron.AddFunc(config.Schedule, func() { c.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", config.Schedule, err)
	}
	return c, nil
}

// RunOnce performs one cleanup pass.
func (c *Cleaner) RunOnce(ctx context.Context) {
	now := c.now()

	if c.config.StaleAfter > 0 {
		n, err := c.store.RecoverStale(ctx, now.Add(-c.config.StaleAfter))
		if err != nil {
			c.logger.Error("Failed to recover stale jobs", slog.String("error", err.Error()))
		} else if n > 0 {
			c.logger.Warn("Failed stale jobs", slog.Int64("count", n))
		}
	}

	if c.config.Retention > 0 {
		n, err := c.store.PurgeFinished(ctx, now.Add(-c.config.Retention))
		if err != nil {
			c.logger.Error("Failed to purge finished jobs", slog.String("error", err.Error()))
		} else {
			c.logger.Info("Purged finished jobs",
				slog.Int64("count", n),
				slog.Duration("retention", c.config.Retention),
			)
		}
	}
}

func (c *Cleaner) Start() {
	c.logger.Info("Cleanup scheduler started", slog.String("schedule", c.config.Schedule))
	c.cron.Start()
}

// Stop waits for a running pass to finish.
func (c *Cleaner) Stop() {
	<-c.cron.Stop().Done()
	c.logger.Info("Cleanup scheduler stopped")
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
