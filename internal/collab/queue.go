package collab

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/livetiming-relay/internal/metrics"
)

// ErrQueueFull is returned by Submit when the pending buffer is full.
var ErrQueueFull = errors.New("collaborator queue full")

// Job is one collaborator request. Its context carries the per-job timeout.
type Job func(ctx context.Context) error

// QueueConfig tunes a Queue.
type QueueConfig struct {
	// Interval is the minimum gap between the start of two jobs.
	Interval time.Duration
	// Timeout bounds a single job.
	Timeout time.Duration
	// Size is how many jobs may wait behind the one in flight.
	Size int
}

// Queue runs jobs for one collaborator strictly one at a time with a fixed
// inter-request interval. Submit never blocks the caller.
type Queue struct {
	name    string
	jobs    chan Job
	limiter *rate.Limiter
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewQueue(name string, cfg QueueConfig, m *metrics.Metrics, logger *zap.Logger) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}

	return &Queue{
		name:    name,
		jobs:    make(chan Job, cfg.Size),
		limiter: rate.NewLimiter(limit, 1),
		timeout: cfg.Timeout,
		metrics: m,
		logger:  logger.With(zap.String("collaborator", name)),
	}
}

// Submit enqueues job, or drops it when the buffer is full.
func (q *Queue) Submit(job Job) error {
	select {
	case q.jobs <- job:
		return nil
	default:
		q.metrics.ObserveCollaborator(q.name, "dropped")
		q.logger.Warn("collaborator queue full, dropping job")
		return ErrQueueFull
	}
}

// Pending returns the number of jobs waiting.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Run drains the queue until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-q.jobs:
			if err := q.limiter.Wait(ctx); err != nil {
				return nil
			}
			q.execute(ctx, job)
		}
	}
}

func (q *Queue) execute(ctx context.Context, job Job) {
	jobCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	start := time.Now()
	if err := job(jobCtx); err != nil {
		q.metrics.ObserveCollaborator(q.name, "failure")
		q.logger.Warn("collaborator job failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	q.metrics.ObserveCollaborator(q.name, "success")
	q.logger.Debug("collaborator job done", zap.Duration("elapsed", time.Since(start)))
}
