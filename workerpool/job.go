package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// JobImpl is the concrete implementation of a Job.
type JobImpl struct {
	id          string
	name        string
	runs        atomic.Int64
	retries     int
	processFunc func(ctx context.Context) error

	finishOnce sync.Once
	done       chan struct{}
	err        error
}

func (ji *JobImpl) ID() string {
	return ji.id
}

func (ji *JobImpl) Name() string {
	return ji.name
}

func (ji *JobImpl) F() func(ctx context.Context) error {
	return ji.processFunc
}

func (ji *JobImpl) CanRun() bool {
	return ji.Retries() >= ji.Runs()
}

func (ji *JobImpl) Retries() int {
	return ji.retries
}

func (ji *JobImpl) Runs() int {
	return int(ji.runs.Load())
}

func (ji *JobImpl) IncreaseRuns() {
	ji.runs.Add(1)
}

func (ji *JobImpl) Done() <-chan struct{} {
	return ji.done
}

// Err is the final error, valid once Done is closed.
func (ji *JobImpl) Err() error {
	select {
	case <-ji.done:
		return ji.err
	default:
		return nil
	}
}

// Finish records the outcome. Only the first call has an effect.
func (ji *JobImpl) Finish(err error) {
	ji.finishOnce.Do(func() {
		ji.err = err
		close(ji.done)
	})
}

// NewJob creates a job that runs once.
func NewJob(name string, process func(ctx context.Context) error) Job {
	return NewJobWithRetry(name, process, defaultJobRetryCount)
}

// NewJobWithRetry creates a job that is retried with backoff up to retries times.
func NewJobWithRetry(name string, process func(ctx context.Context) error, retries int) Job {
	return &JobImpl{
		id:          xid.New().String(),
		name:        name,
		retries:     retries,
		processFunc: process,
		done:        make(chan struct{}),
	}
}

// Await blocks until job is done or ctx ends.
func Await(ctx context.Context, job Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-job.Done():
		return job.Err()
	}
}
