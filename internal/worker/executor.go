// Package worker serializes all access to a user's collection. Every
// collection file gets at most one executor goroutine; jobs submitted for
// the same collection run strictly one after another in arrival order,
// while jobs for different collections run concurrently.
package worker

import (
	"context"
	"time"

	"github.com/MKhiriev/go-card-sync/internal/logger"
	"github.com/MKhiriev/go-card-sync/internal/store"
)

// Job is one unit of work against an open collection. The collection handle
// is only valid for the duration of the call.
type Job func(ctx context.Context, col *store.Collection) (any, error)

// OpenFunc opens the collection backing an executor. Injected so tests can
// substitute their own collections.
type OpenFunc func(ctx context.Context, path string) (*store.Collection, error)

type task struct {
	ctx  context.Context
	job  Job
	done chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// Executor owns one collection file. Its goroutine opens the collection on
// first use, runs queued jobs FIFO, and closes the collection again after
// the idle timeout so hundreds of users do not pin hundreds of open
// database handles.
type Executor struct {
	path    string
	open    OpenFunc
	idle    time.Duration
	mailbox chan task
	logger  *logger.Logger
}

func newExecutor(path string, open OpenFunc, idle time.Duration, log *logger.Logger) *Executor {
	return &Executor{
		path:    path,
		open:    open,
		idle:    idle,
		mailbox: make(chan task, 16),
		logger:  log,
	}
}

// Submit enqueues job and blocks until it has run or ctx is cancelled.
// Cancellation while queued abandons the job; cancellation while running
// returns early but lets the job finish on the executor goroutine.
func (e *Executor) Submit(ctx context.Context, job Job) (any, error) {
	done := make(chan taskResult, 1)

	select {
	case e.mailbox <- task{ctx: ctx, job: job, done: done}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the executor goroutine. It exits when the mailbox is closed.
func (e *Executor) run() {
	var col *store.Collection

	closeCol := func() {
		if col == nil {
			return
		}
		if err := col.Close(); err != nil {
			e.logger.Err(err).Str("path", e.path).Msg("error closing idle collection")
		}
		col = nil
	}
	defer closeCol()

	for {
		select {
		case t, ok := <-e.mailbox:
			if !ok {
				return
			}
			if t.ctx.Err() != nil {
				// caller gave up while the task was queued
				t.done <- taskResult{err: t.ctx.Err()}
				continue
			}
			if col == nil {
				opened, err := e.open(t.ctx, e.path)
				if err != nil {
					e.logger.Err(err).Str("path", e.path).Msg("error opening collection")
					t.done <- taskResult{err: err}
					continue
				}
				col = opened
			}
			value, err := t.job(t.ctx, col)
			t.done <- taskResult{value: value, err: err}

		case <-time.After(e.idle):
			closeCol()
		}
	}
}
