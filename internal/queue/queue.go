// Package queue implements the single-writer action queue: many producers, one consumer, FIFO.
//
// Every read or write of shared game state happens inside an Action run by Queue.Run, so no
// other synchronization is needed for that state.
package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is how long the consumer sleeps after draining the queue.
const DefaultInterval = 8 * time.Millisecond

// Action is one unit of work. The context is cancelled when the queue stops.
type Action func(ctx context.Context)

// Queue is a multi-producer, single-consumer FIFO of actions.
type Queue struct {
	mu       sync.Mutex
	pending  []Action
	interval time.Duration
	logger   *zap.Logger
}

// New returns a queue whose consumer sleeps interval between drains. A non-positive interval
// uses DefaultInterval.
func New(interval time.Duration, logger *zap.Logger) *Queue {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Queue{interval: interval, logger: logger}
}

// Enqueue appends an action. It is safe to call from any goroutine and never blocks on the
// consumer.
func (q *Queue) Enqueue(a Action) {
	if a == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, a)
	q.mu.Unlock()
}

// Len returns the number of actions waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run is the consumer loop. It drains the queue, sleeps for the interval, and repeats until
// ctx is done, then drains whatever is still pending before returning. Actions get ctx's
// values but never its cancellation, so a write already under way at shutdown completes.
// Only one goroutine may call Run or Drain at a time.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	actx := context.WithoutCancel(ctx)
	for {
		q.Drain(actx)
		select {
		case <-ctx.Done():
			q.Drain(actx)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Drain runs queued actions until the queue is empty, including actions enqueued while
// draining. It returns the number of actions run.
func (q *Queue) Drain(ctx context.Context) int {
	n := 0
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()

		if len(batch) == 0 {
			return n
		}
		for _, a := range batch {
			q.run(ctx, a)
			n++
		}
	}
}

func (q *Queue) run(ctx context.Context, a Action) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("action panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	a(ctx)
}
