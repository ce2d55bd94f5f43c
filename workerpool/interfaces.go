package workerpool

import (
	"context"
)

const defaultJobRetryCount = 0

// Job is a unit of background work with bounded retries.
// Done is closed once the job succeeded, exhausted its retries or was abandoned.
type Job interface {
	ID() string
	Name() string
	F() func(ctx context.Context) error
	CanRun() bool
	Retries() int
	Runs() int
	IncreaseRuns()
	Done() <-chan struct{}
	Err() error
	Finish(err error)
}

// Manager owns the worker pool and tracks jobs that have not finished yet.
type Manager interface {
	GetPool() (WorkerPool, error)
	Submit(ctx context.Context, job Job) error
	Pending() int
	Wait(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// WorkerPool defines the common methods for worker pool operations.
// This allows the manager to hold either a single ants.Pool or an ants.MultiPool.
type WorkerPool interface {
	Submit(ctx context.Context, task func()) error
	Running() int
	Shutdown()
}
