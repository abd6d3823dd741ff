package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TaskResult is the outcome of a fire-and-forget task. Callers may ignore it.
type TaskResult struct {
	Name string
	Err  error
}

// TaskRunner runs best-effort remote calls off the critical path. Failures
// are logged and reported on the returned channel, never propagated.
type TaskRunner struct {
	timeout time.Duration
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// NewTaskRunner creates a TaskRunner whose tasks are bounded by timeout.
func NewTaskRunner(timeout time.Duration, log zerolog.Logger) *TaskRunner {
	return &TaskRunner{
		timeout: timeout,
		log:     log.With().Str("component", "task_runner").Logger(),
	}
}

// Go runs fn in the background. The returned channel receives exactly one
// result and is buffered, so dropping it never leaks the goroutine.
func (r *TaskRunner) Go(name string, fn func(ctx context.Context) error) <-chan TaskResult {
	out := make(chan TaskResult, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(out)

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		err := fn(ctx)
		if err != nil {
			r.log.Warn().Err(err).Str("task", name).Msg("Background task failed")
		}
		out <- TaskResult{Name: name, Err: err}
	}()
	return out
}

// Wait blocks until every started task finished.
func (r *TaskRunner) Wait() {
	r.wg.Wait()
}
