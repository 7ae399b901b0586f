package bridge

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trestle-dev/trestle/internal/agent"
)

// DefaultTaskTimeout bounds one background task. Classification calls,
// session creation, and multi-page event retrieval all fit comfortably.
const DefaultTaskTimeout = 5 * time.Minute

// Executor runs fire-and-forget background work. The webhook request path
// submits a task and returns immediately; the executor guarantees the task
// runs to completion or logs its failure. There is no caller-visible
// handle and no cancellation beyond the task timeout.
type Executor struct {
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewExecutor creates an Executor.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	return &Executor{timeout: timeout}
}

// Submit schedules fn on a fresh goroutine with a new trace id attached to
// the context. Panics are recovered and logged.
func (e *Executor) Submit(name string, fn func(ctx context.Context)) {
	traceID := uuid.NewString()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("executor: task %s [trace=%s] panicked: %v", name, traceID, r)
			}
		}()

		ctx, cancel := context.WithTimeout(agent.WithTrace(context.Background(), traceID), e.timeout)
		defer cancel()

		start := time.Now()
		fn(ctx)
		log.Printf("executor: task %s [trace=%s] finished in %v", name, traceID, time.Since(start))
	}()
}

// Wait blocks until all submitted tasks finish. Used on shutdown and in
// tests.
func (e *Executor) Wait() {
	e.wg.Wait()
}
