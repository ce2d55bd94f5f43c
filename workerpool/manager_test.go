package workerpool_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pitabwire/util"
	"github.com/stretchr/testify/suite"

	"github.com/localgpt/localgpt/config"
	"github.com/localgpt/localgpt/workerpool"
)

type ManagerSuite struct {
	suite.Suite

	ctx context.Context
	mgr workerpool.Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	cfg := &config.Bootstrap{WorkerPoolCapacity: 8, WorkerPoolCount: 1, WorkerPoolExpiryDuration: "1s"}

	mgr, err := workerpool.NewManager(s.ctx, cfg)
	s.Require().NoError(err)
	s.mgr = mgr
}

func (s *ManagerSuite) TearDownTest() {
	s.Require().NoError(s.mgr.Shutdown(s.ctx))
}

func (s *ManagerSuite) TestJobRunsOnce() {
	var runs atomic.Int32
	job := workerpool.NewJob("count", func(_ context.Context) error {
		runs.Add(1)
		return nil
	})

	s.Require().NoError(s.mgr.Submit(s.ctx, job))
	s.Require().NoError(workerpool.Await(s.ctx, job))
	s.Equal(int32(1), runs.Load())
	s.Equal(1, job.Runs())
	s.NotEmpty(job.ID())
	s.Equal("count", job.Name())
}

func (s *ManagerSuite) TestJobIsRetriedUntilSuccess() {
	var runs atomic.Int32
	job := workerpool.NewJobWithRetry("flaky", func(_ context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("disk busy")
		}
		return nil
	}, 3)

	s.Require().NoError(s.mgr.Submit(s.ctx, job))

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(workerpool.Await(ctx, job))
	s.Equal(int32(3), runs.Load())
}

func (s *ManagerSuite) TestJobErrorAfterRetriesExhausted() {
	failure := errors.New("read-only file system")
	job := workerpool.NewJobWithRetry("broken", func(_ context.Context) error {
		return failure
	}, 1)

	s.Require().NoError(s.mgr.Submit(s.ctx, job))

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.Require().ErrorIs(workerpool.Await(ctx, job), failure)
	s.Equal(2, job.Runs())
}

func (s *ManagerSuite) TestPanicIsReportedAsError() {
	job := workerpool.NewJob("panics", func(_ context.Context) error {
		panic("boom")
	})

	s.Require().NoError(s.mgr.Submit(s.ctx, job))
	s.Require().ErrorIs(workerpool.Await(s.ctx, job), workerpool.ErrJobPanicked)
}

func (s *ManagerSuite) TestWaitDrainsPendingJobs() {
	release := make(chan struct{})
	var finished atomic.Int32

	for range 4 {
		job := workerpool.NewJob("slow", func(_ context.Context) error {
			<-release
			finished.Add(1)
			return nil
		})
		s.Require().NoError(s.mgr.Submit(s.ctx, job))
	}

	s.Positive(s.mgr.Pending())

	short, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()
	s.Require().ErrorIs(s.mgr.Wait(short), context.DeadlineExceeded)

	close(release)
	s.Require().NoError(s.mgr.Wait(s.ctx))
	s.Equal(int32(4), finished.Load())
	s.Zero(s.mgr.Pending())
}

func (s *ManagerSuite) TestSubmitAfterShutdown() {
	s.Require().NoError(s.mgr.Shutdown(s.ctx))

	err := s.mgr.Submit(s.ctx, workerpool.NewJob("late", func(_ context.Context) error { return nil }))
	s.Require().ErrorIs(err, workerpool.ErrManagerShutdown)
}

func (s *ManagerSuite) TestPanicHandlerReceivesRawTaskPanics() {
	panics := make(chan any, 1)
	cfg := &config.Bootstrap{WorkerPoolCapacity: 2, WorkerPoolCount: 1}

	mgr, err := workerpool.NewManager(s.ctx, cfg,
		workerpool.WithPoolLogger(util.NewLogger(s.ctx, util.WithLogOutput(io.Discard))),
		workerpool.WithPoolPanicHandler(func(p any) { panics <- p }),
	)
	s.Require().NoError(err)
	defer func() { s.Require().NoError(mgr.Shutdown(s.ctx)) }()

	pool, err := mgr.GetPool()
	s.Require().NoError(err)
	s.Require().NoError(pool.Submit(s.ctx, func() { panic("raw task") }))

	select {
	case p := <-panics:
		s.Equal("raw task", p)
	case <-time.After(5 * time.Second):
		s.Fail("panic handler was not called")
	}
}
