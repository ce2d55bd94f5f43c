package localgpt

import (
	"context"
	"fmt"

	"github.com/localgpt/localgpt/workerpool"
)

const workerPoolScope = "worker-pool"

// WithWorkerPoolOptions creates the worker pool from the LOCALGPT_WORKER_POOL_*
// knobs adjusted by options. The pool logs through the app logger and hands
// task panics to HandleError.
func WithWorkerPoolOptions(options ...workerpool.Option) Option {
	return func(ctx context.Context, a *App) {
		base := []workerpool.Option{
			workerpool.WithPoolLogger(a.log),
			workerpool.WithPoolPanicHandler(func(p any) {
				a.HandleError(ctx, workerPoolScope, fmt.Errorf("%w: %v", ErrPanicked, p))
			}),
		}

		jobs, err := workerpool.NewManager(ctx, &a.bootstrap, append(base, options...)...)
		if err != nil {
			a.Log(ctx).WithError(err).Error("could not create worker pool, background work runs on goroutines")
			a.AddStartupError(err)
			return
		}

		if a.jobs != nil {
			if shutdownErr := a.jobs.Shutdown(ctx); shutdownErr != nil {
				a.Log(ctx).WithError(shutdownErr).Warn("previous worker pool did not stop cleanly")
			}
		}
		a.jobs = jobs
	}
}

func (a *App) ensureJobs(ctx context.Context) {
	if a.jobs == nil {
		WithWorkerPoolOptions()(ctx, a)
	}
}

// SubmitJob queues job on the app worker pool.
func SubmitJob(ctx context.Context, a *App, job workerpool.Job) error {
	if a.jobs == nil {
		return workerpool.ErrPoolNotConfigured
	}
	return a.jobs.Submit(ctx, job)
}
