package worker

import (
	"context"
	"sync"
	"time"

	"github.com/MKhiriev/go-card-sync/internal/logger"
)

// DefaultIdleTimeout is how long an executor keeps its collection open
// after the last job when no timeout is configured.
const DefaultIdleTimeout = 30 * time.Second

// Registry hands out one [Executor] per collection path. Executors are
// created lazily and live until [Registry.Shutdown].
type Registry struct {
	mu        sync.Mutex
	executors map[string]*Executor
	wg        sync.WaitGroup

	open   OpenFunc
	idle   time.Duration
	logger *logger.Logger
}

// NewRegistry constructs a registry whose executors open collections with
// open and close them after idle. A non-positive idle falls back to
// [DefaultIdleTimeout].
func NewRegistry(open OpenFunc, idle time.Duration, log *logger.Logger) *Registry {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	log.Debug().Dur("idle_timeout", idle).Msg("creating collection worker registry")
	return &Registry{
		executors: map[string]*Executor{},
		open:      open,
		idle:      idle,
		logger:    log,
	}
}

// Executor returns the executor owning the collection at path, starting it
// if this is the first request for that path.
func (r *Registry) Executor(path string) *Executor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.executors[path]; ok {
		return e
	}

	e := newExecutor(path, r.open, r.idle, r.logger)
	r.executors[path] = e
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		e.run()
	}()

	return e
}

// Shutdown stops accepting work, drains the executors and waits for their
// goroutines to finish or ctx to expire. Jobs still queued when an
// executor's mailbox closes are run before it exits.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, e := range r.executors {
		close(e.mailbox)
	}
	r.executors = map[string]*Executor{}
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
