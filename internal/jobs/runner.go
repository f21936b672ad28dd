package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/prudhvinik1/nebula/internal/log"
	"github.com/prudhvinik1/nebula/internal/metrics"
)

var (
	ErrQueueFull = errors.New("job queue full")
	ErrStopped   = errors.New("job runner stopped")
)

// Job is one unit of background work. Run must be idempotent: a failed or
// timed out attempt is retried from the beginning.
type Job struct {
	Kind string
	Key  string
	Run  func(ctx context.Context) error
}

type Config struct {
	Workers        int
	QueueSize      int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Runner executes jobs on a fixed pool of workers with a bounded queue.
type Runner struct {
	cfg    Config
	queue  chan Job
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

func NewRunner(cfg Config) *Runner {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:    cfg,
		queue:  make(chan Job, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: log.WithComponent("jobs"),
	}
}

func (r *Runner) Start() {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.logger.Info().Int("workers", r.cfg.Workers).Msg("job runner started")
}

// Enqueue hands a job to the pool without blocking.
func (r *Runner) Enqueue(job Job) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrStopped
	}
	select {
	case r.queue <- job:
		return nil
	default:
		metrics.JobAttempts.WithLabelValues(job.Kind, "dropped").Inc()
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish. If ctx
// ends first, in-flight attempts are cancelled.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for job := range r.queue {
		if err := r.Execute(r.ctx, job); err != nil {
			r.logger.Error().Err(err).Str("kind", job.Kind).Str("key", job.Key).Msg("job abandoned")
		}
	}
}

// Execute runs job synchronously with the runner's time budget and retry
// policy.
func (r *Runner) Execute(ctx context.Context, job Job) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, r.attempt(ctx, job, attempt)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(time.Duration(r.cfg.MaxAttempts)*(r.cfg.Timeout+r.cfg.MaxBackoff)),
	)
	if err != nil {
		return fmt.Errorf("%s job %s failed after %d attempts: %w", job.Kind, job.Key, attempt, err)
	}
	return nil
}

func (r *Runner) attempt(ctx context.Context, job Job, attempt int) (err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	timer := metrics.NewTimer()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
		timer.ObserveDurationVec(metrics.JobDuration, job.Kind)
		if err != nil {
			metrics.JobAttempts.WithLabelValues(job.Kind, "failed").Inc()
			r.logger.Warn().Err(err).
				Str("kind", job.Kind).
				Str("key", job.Key).
				Int("attempt", attempt).
				Msg("job attempt failed")
			return
		}
		metrics.JobAttempts.WithLabelValues(job.Kind, "ok").Inc()
	}()

	err = job.Run(attemptCtx)
	if err == nil {
		return nil
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("job exceeded its %s budget: %w", r.cfg.Timeout, err)
	}
	if ctx.Err() != nil {
		// runner is shutting down, stop retrying
		return backoff.Permanent(err)
	}
	return err
}
