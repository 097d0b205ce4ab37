// Package memory provides the in-process work queue used by the fetch pipeline.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/urlfetch/internal/pipeline"
)

// ErrStopped is returned by Enqueue and Dequeue once the queue has been closed.
var ErrStopped = pipeline.ErrQueueStopped

// Queue is a bounded in-memory FIFO that tracks how many enqueued tasks are
// still outstanding. Enqueue blocks while the buffer is full.
type Queue struct {
	ch       chan pipeline.URLTask
	stopCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	pending int64
	idle    chan struct{} // closed whenever pending == 0
}

// NewQueue constructs a queue buffering up to capacity tasks.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		ch:     make(chan pipeline.URLTask, capacity),
		stopCh: make(chan struct{}),
		idle:   idle,
	}
}

// Enqueue appends a task, waiting for buffer space if necessary.
func (q *Queue) Enqueue(ctx context.Context, task pipeline.URLTask) error {
	if q.stopped() {
		return ErrStopped
	}
	q.add()
	select {
	case q.ch <- task:
		return nil
	case <-ctx.Done():
		q.Done()
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.stopCh:
		q.Done()
		return ErrStopped
	}
}

// Dequeue pops the next task. It returns ErrStopped once Close has been called.
func (q *Queue) Dequeue(ctx context.Context) (pipeline.URLTask, error) {
	if q.stopped() {
		return pipeline.URLTask{}, ErrStopped
	}
	select {
	case <-ctx.Done():
		return pipeline.URLTask{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.stopCh:
		return pipeline.URLTask{}, ErrStopped
	case task := <-q.ch:
		return task, nil
	}
}

// Done marks one task as finished. Calling Done more often than tasks were
// enqueued panics, like sync.WaitGroup.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		panic("memory: Queue.Done called with no pending tasks")
	}
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

// Wait blocks until every enqueued task has been marked done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait canceled: %w", ctx.Err())
	}
}

// Pending reports the number of tasks enqueued but not yet marked done.
func (q *Queue) Pending() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Len reports the number of buffered tasks not yet dequeued.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close broadcasts the stop signal to every current and future Dequeue caller.
// It is safe to call more than once.
func (q *Queue) Close() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
}

func (q *Queue) add() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
}

func (q *Queue) stopped() bool {
	select {
	case <-q.stopCh:
		return true
	default:
		return false
	}
}
