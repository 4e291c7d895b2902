package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrQueueClosed is returned when submitting to a closed queue.
var ErrQueueClosed = errors.New("queue closed")

// Queue enqueues tasks in the store and dispatches them to a worker pool
// that runs the executor. A failed or cancelled task never blocks the ones
// behind it.
type Queue struct {
	store    *TaskStore
	executor *Executor
	ids      chan string
	pool     *WorkerPool
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue with the given number of workers (at least one)
// and backlog capacity.
func NewQueue(ctx context.Context, store *TaskStore, executor *Executor, workers, backlog int, logger *slog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if backlog < 1 {
		backlog = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		store:    store,
		executor: executor,
		ids:      make(chan string, backlog),
		logger:   logger,
	}
	q.pool = NewWorkerPool(ctx, q.ids, executor.Run)
	q.pool.Resize(workers)
	return q
}

// Submit adds task to the store and schedules it.
func (q *Queue) Submit(ctx context.Context, task Task) error {
	if err := q.store.Enqueue(task); err != nil {
		return err
	}
	if err := q.Dispatch(ctx, task.ID); err != nil {
		_ = q.store.Finish(task.ID, StatusFailed, err)
		return err
	}
	return nil
}

// Dispatch schedules an already stored, queued task, such as one restored
// from disk.
func (q *Queue) Dispatch(ctx context.Context, id string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ids <- id:
		q.logger.Debug("task dispatched", "task", id)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch %s: %w", id, ctx.Err())
	}
}

// DispatchQueued schedules every QUEUED task in the store, in order.
func (q *Queue) DispatchQueued(ctx context.Context) (int, error) {
	n := 0
	for _, t := range q.store.Tasks() {
		if t.Status != StatusQueued {
			continue
		}
		if err := q.Dispatch(ctx, t.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// SetWorkers changes the number of concurrent uploads. Running uploads are
// not interrupted when the count shrinks.
func (q *Queue) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	q.pool.Resize(n)
}

// Workers returns the number of concurrent uploads.
func (q *Queue) Workers() int {
	return q.pool.Size()
}

// Drain stops accepting tasks and waits for the dispatched ones to settle.
func (q *Queue) Drain() {
	q.close()
	q.pool.Wait()
}

// Stop stops accepting tasks and aborts the running ones.
func (q *Queue) Stop() {
	q.close()
	q.pool.Stop()
}

func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ids)
	}
}
