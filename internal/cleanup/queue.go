package cleanup

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
)

type queueKey struct{}

// queue holds the tasks registered for one request.
type queue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
}

// add appends a task unless the queue has already been drained.
func (q *queue) add(task func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, task)
	return true
}

func (q *queue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	tasks := q.tasks
	q.tasks = nil
	return tasks
}

// AfterResponse installs a post-response task queue on each request. Once
// the wrapped handler returns, the buffered response is flushed to the
// client and the registered tasks run in registration order. Tasks also run
// when the handler panics or the client has gone away.
func AfterResponse(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := &queue{}
		ctx := context.WithValue(r.Context(), queueKey{}, q)

		defer func() {
			if err := http.NewResponseController(w).Flush(); err != nil {
				slog.Debug("flush before post-response tasks failed", "error", err)
			}
			for _, task := range q.drain() {
				runTask(task)
			}
		}()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func runTask(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("post-response task panicked", "panic", rec)
		}
	}()
	task()
}
