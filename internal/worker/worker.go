package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of recurring background work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Name() string { return j.JobName }

func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// Interval is how often each registered job runs
	Interval time.Duration

	// JobTimeout bounds a single job run. Zero means no timeout.
	JobTimeout time.Duration
}

// Worker runs registered jobs on a fixed interval until its context is
// cancelled. Jobs run sequentially within a tick; a failing job is logged
// and does not stop the others or the loop.
type Worker struct {
	config Config
	jobs   []Job
	logger *slog.Logger
}

// NewWorker creates a background worker.
func NewWorker(config Config, logger *slog.Logger, jobs ...Job) *Worker {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.Interval == 0 {
		config.Interval = time.Hour
	}

	return &Worker{
		config: config,
		jobs:   jobs,
		logger: logger.With("worker_id", config.WorkerID),
	}
}

// Start begins running jobs until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"interval", w.config.Interval,
		"jobs", len(w.jobs),
	)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down")
			return ctx.Err()

		case <-ticker.C:
			w.runAll(ctx)
		}
	}
}

// RunOnce runs every registered job a single time.
func (w *Worker) RunOnce(ctx context.Context) {
	w.runAll(ctx)
}

func (w *Worker) runAll(ctx context.Context) {
	for _, job := range w.jobs {
		start := time.Now()

		jobCtx := ctx
		cancel := func() {}
		if w.config.JobTimeout > 0 {
			jobCtx, cancel = context.WithTimeout(ctx, w.config.JobTimeout)
		}

		if err := job.Run(jobCtx); err != nil {
			w.logger.Error("job failed",
				"job", job.Name(),
				"duration", time.Since(start),
				"error", err,
			)
		} else {
			w.logger.Info("job completed",
				"job", job.Name(),
				"duration", time.Since(start),
			)
		}
		cancel()
	}
}
