package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/util"

	"github.com/localgpt/localgpt/config"
)

const (
	jobRetryBackoffBaseDelay    = 100 * time.Millisecond
	jobRetryBackoffMaxDelay     = 30 * time.Second
	jobRetryBackoffMaxRunNumber = 10
)

var (
	ErrPoolNotConfigured = errors.New("worker pool is not configured")
	ErrManagerShutdown   = errors.New("worker pool manager is shut down")
	ErrJobPanicked       = errors.New("job panicked")
)

func jobRetryBackoffDelay(run int) time.Duration {
	if run < 1 {
		run = 1
	}

	if run > jobRetryBackoffMaxRunNumber {
		run = jobRetryBackoffMaxRunNumber
	}

	delay := jobRetryBackoffBaseDelay * time.Duration(1<<(run-1))
	if delay > jobRetryBackoffMaxDelay {
		return jobRetryBackoffMaxDelay
	}

	return delay
}

type manager struct {
	pool    WorkerPool
	mu      sync.Mutex
	pending int
	idle    chan struct{}
	closed  bool
}

// NewManager creates the pool described by cfg, adjusted by opts.
func NewManager(ctx context.Context, cfg config.ConfigurationWorkerPool, opts ...Option) (Manager, error) {
	log := util.Log(ctx)

	poolOpts := defaultWorkerPoolOpts(cfg, log)
	for _, opt := range opts {
		opt(poolOpts)
	}

	pool, err := setupWorkerPool(ctx, poolOpts)
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	return &manager{pool: pool}, nil
}

func (m *manager) GetPool() (WorkerPool, error) {
	if m.pool == nil {
		return nil, ErrPoolNotConfigured
	}
	return m.pool, nil
}

func (m *manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Submit queues job. The manager counts it as pending until it finishes,
// including time spent waiting for a retry.
func (m *manager) Submit(ctx context.Context, job Job) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerShutdown
	}
	if m.pending == 0 {
		m.idle = make(chan struct{})
	}
	m.pending++
	m.mu.Unlock()

	if err := m.submit(ctx, job); err != nil {
		m.finish(job, err)
		return err
	}
	return nil
}

// Wait blocks until every submitted job has finished or ctx ends.
func (m *manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	if m.pending == 0 {
		m.mu.Unlock()
		return nil
	}
	idle := m.idle
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}

// Shutdown refuses new jobs, waits for pending ones and releases the pool.
func (m *manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	err := m.Wait(ctx)
	if m.pool != nil {
		m.pool.Shutdown()
	}
	return err
}

func (m *manager) submit(ctx context.Context, job Job) error {
	pool, err := m.GetPool()
	if err != nil {
		return err
	}
	return pool.Submit(ctx, m.executionTask(ctx, job))
}

func (m *manager) finish(job Job, err error) {
	job.Finish(err)

	m.mu.Lock()
	m.pending--
	if m.pending == 0 {
		close(m.idle)
	}
	m.mu.Unlock()
}

// executionTask wraps job execution, error handling and retry scheduling.
func (m *manager) executionTask(ctx context.Context, job Job) func() {
	return func() {
		log := util.Log(ctx).
			WithField("job", job.ID()).
			WithField("name", job.Name()).
			WithField("run", job.Runs())

		if job.F() == nil {
			log.Error("Job function is nil")
			m.finish(job, errors.New("job function is nil"))
			return
		}

		job.IncreaseRuns()
		executionErr := runRecovered(ctx, job.F())

		if executionErr == nil || errors.Is(executionErr, context.Canceled) {
			m.finish(job, executionErr)
			return
		}

		log = log.WithError(executionErr).WithField("can retry", job.CanRun())
		if !job.CanRun() {
			log.Error("Job failed; retries exhausted.")
			m.finish(job, executionErr)
			return
		}

		log.Warn("Job failed, attempting to retry it")
		m.scheduleRetry(ctx, job, jobRetryBackoffDelay(job.Runs()), executionErr)
	}
}

// runRecovered turns a panic inside f into an error so the job is always finished.
func runRecovered(ctx context.Context, f func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return f(ctx)
}

func (m *manager) scheduleRetry(ctx context.Context, job Job, delay time.Duration, executionErr error) {
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			m.finish(job, executionErr)
			return
		case <-timer.C:
		}

		if err := m.submit(ctx, job); err != nil {
			util.Log(ctx).WithError(err).WithField("job", job.ID()).Error("Failed to resubmit job")
			m.finish(job, fmt.Errorf("failed to resubmit job: %w", executionErr))
		}
	}()
}
