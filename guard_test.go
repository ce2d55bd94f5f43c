package localgpt_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/localgpt/localgpt"
	"github.com/localgpt/localgpt/workerpool"
)

type presented struct {
	mu     sync.Mutex
	scopes []string
	errs   []error
}

func (p *presented) Present(_ context.Context, scope string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scopes = append(p.scopes, scope)
	p.errs = append(p.errs, err)
}

func (p *presented) snapshot() ([]string, []error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scopes...), append([]error(nil), p.errs...)
}

func (s *AppSuite) TestExecuteReportsFailures() {
	shown := &presented{}
	ctx, app := s.newApp(nil, localgpt.WithErrorPresenter(shown))

	s.True(app.Execute(ctx, "load-session", func(context.Context) error { return nil }))

	errBoom := errors.New("boom")
	s.False(app.Execute(ctx, "save-session", func(context.Context) error { return errBoom }))
	s.False(app.Execute(ctx, "render", func(context.Context) error { panic("nil image") }))

	scopes, errs := shown.snapshot()
	s.Equal([]string{"save-session", "render"}, scopes)
	s.Require().Len(errs, 2)
	s.ErrorIs(errs[0], errBoom)
	s.ErrorIs(errs[1], localgpt.ErrPanicked)
	s.Contains(errs[1].Error(), "nil image")
	s.Contains(s.logs.String(), "Exception in operation")
}

func (s *AppSuite) TestExecuteValue() {
	ctx, app := s.newApp(nil)

	got := localgpt.ExecuteValue(ctx, app, "count", func(context.Context) (int, error) { return 42, nil }, -1)
	s.Equal(42, got)

	got = localgpt.ExecuteValue(ctx, app, "count", func(context.Context) (int, error) {
		return 7, errors.New("partial")
	}, -1)
	s.Equal(-1, got)
}

func (s *AppSuite) TestGoRunsInBackground() {
	shown := &presented{}
	ctx, app := s.newApp(nil, localgpt.WithErrorPresenter(shown))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ok := app.Go(ctx, "index", func(context.Context) error { return nil })
	s.Require().NoError(workerpool.Await(waitCtx, ok))

	failed := app.Go(ctx, "export", func(context.Context) error { panic("disk gone") })
	s.Require().ErrorIs(workerpool.Await(waitCtx, failed), localgpt.ErrPanicked)

	scopes, _ := shown.snapshot()
	s.Equal([]string{"export"}, scopes)
}

func (s *AppSuite) TestWorkerPoolPanicsAreHandled() {
	shown := &presented{}
	ctx, app := s.newApp(nil, localgpt.WithErrorPresenter(shown))

	pool, err := app.WorkManager().GetPool()
	s.Require().NoError(err)
	s.Require().NoError(pool.Submit(ctx, func() { panic("stray task") }))

	s.Eventually(func() bool {
		scopes, _ := shown.snapshot()
		return len(scopes) == 1
	}, 5*time.Second, 10*time.Millisecond)

	scopes, errs := shown.snapshot()
	s.Equal("worker-pool", scopes[0])
	s.ErrorIs(errs[0], localgpt.ErrPanicked)
	s.Contains(errs[0].Error(), "stray task")
}
