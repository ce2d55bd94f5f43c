package localgpt

import (
	"context"
	"errors"
	"fmt"

	"github.com/localgpt/localgpt/workerpool"
)

var ErrPanicked = errors.New("operation panicked")

// ErrorPresenter shows a failed operation to the user.
type ErrorPresenter interface {
	Present(ctx context.Context, scope string, err error)
}

// ErrorPresenterFunc adapts a function to ErrorPresenter.
type ErrorPresenterFunc func(ctx context.Context, scope string, err error)

func (f ErrorPresenterFunc) Present(ctx context.Context, scope string, err error) {
	f(ctx, scope, err)
}

// LogPresenter presents nothing; the guard has already logged the error.
type LogPresenter struct{}

func (LogPresenter) Present(context.Context, string, error) {}

// WithErrorPresenter sets where guarded failures are shown.
func WithErrorPresenter(presenter ErrorPresenter) Option {
	return func(_ context.Context, a *App) {
		if presenter == nil {
			presenter = LogPresenter{}
		}
		a.presenter = presenter
	}
}

// HandleError logs err for scope and hands it to the presenter.
func (a *App) HandleError(ctx context.Context, scope string, err error) {
	a.Log(ctx).WithError(err).WithField("scope", scope).Error("Exception in operation")
	a.presenter.Present(ctx, scope, err)
}

// Execute runs fn, turning an error or panic into a logged and presented
// failure. It reports whether fn succeeded.
func (a *App) Execute(ctx context.Context, scope string, fn func(ctx context.Context) error) bool {
	return a.guard(ctx, scope, fn) == nil
}

// ExecuteValue is Execute for functions with a result; fallback is returned on failure.
func ExecuteValue[T any](ctx context.Context, a *App, scope string, fn func(ctx context.Context) (T, error), fallback T) T {
	var out T
	err := a.guard(ctx, scope, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return fallback
	}
	return out
}

// Go runs fn in the background under the same guard as Execute, on the worker
// pool when there is one. The returned job reports the outcome.
func (a *App) Go(ctx context.Context, scope string, fn func(ctx context.Context) error) workerpool.Job {
	job := workerpool.NewJob(scope, func(ctx context.Context) error {
		return a.guard(ctx, scope, fn)
	})

	if err := SubmitJob(ctx, a, job); err != nil {
		go func() {
			job.IncreaseRuns()
			job.Finish(job.F()(ctx))
		}()
	}
	return job
}

func (a *App) guard(ctx context.Context, scope string, fn func(ctx context.Context) error) error {
	err := runRecovered(ctx, fn)
	if err != nil {
		a.HandleError(ctx, scope, err)
	}
	return err
}

func runRecovered(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return fn(ctx)
}
