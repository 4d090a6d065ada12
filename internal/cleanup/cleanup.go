// Package cleanup guarantees that a request's workspace is reclaimed exactly
// once: synchronously on a failure path, or after the success response has
// been handed off.
package cleanup

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Resource is something a request owns and must release exactly once.
type Resource interface {
	Destroy() error
}

// Mode records which path released a resource.
type Mode string

const (
	ModeNow      Mode = "now"
	ModeDeferred Mode = "deferred"
)

// Scheduler hands out leases for request-owned resources.
type Scheduler struct {
	logger  *slog.Logger
	pending sync.WaitGroup
}

// NewScheduler creates a Scheduler that logs cleanup failures to logger.
// A nil logger means slog.Default().
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Track returns a lease for res. The caller must end the lease with exactly
// one of Now or Deferred; further calls are no-ops.
func (s *Scheduler) Track(res Resource, attrs ...any) *Lease {
	s.pending.Add(1)
	return &Lease{
		res:    res,
		logger: s.logger.With(attrs...),
		done:   s.pending.Done,
	}
}

// Wait blocks until every lease handed out so far has been released, or ctx
// is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lease is the single right to release one resource.
type Lease struct {
	res    Resource
	logger *slog.Logger
	done   func()

	once sync.Once
	mu   sync.Mutex
	mode Mode
}

// Now releases the resource synchronously. Use it on every failure path
// before the error response is written.
func (l *Lease) Now() {
	l.release(ModeNow)
}

// Deferred registers the release to run after the response for r has been
// handed off. r must have passed through AfterResponse; otherwise the
// release is tied to the end of the request context as a fallback.
func (l *Lease) Deferred(r *http.Request) {
	task := func() { l.release(ModeDeferred) }

	if q, ok := r.Context().Value(queueKey{}).(*queue); ok && q.add(task) {
		return
	}

	l.logger.Warn("no post-response queue on request, releasing when the request context ends")
	context.AfterFunc(r.Context(), task)
}

// Released reports which path released the resource, or "" if none has yet.
func (l *Lease) Released() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

func (l *Lease) release(mode Mode) {
	l.once.Do(func() {
		defer l.done()

		start := time.Now()
		err := l.res.Destroy()

		l.mu.Lock()
		l.mode = mode
		l.mu.Unlock()

		if err != nil {
			// Never surfaced: the request outcome has already been decided.
			l.logger.Error("workspace cleanup incomplete", "mode", mode, "error", err)
			return
		}
		l.logger.Debug("workspace cleaned up", "mode", mode, "duration", time.Since(start))
	})
}
