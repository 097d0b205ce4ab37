package pipeline

import (
	"context"
	"errors"
)

// ErrQueueStopped is returned by Queue operations once the queue has been closed.
var ErrQueueStopped = errors.New("queue stopped")

// Fetcher performs one GET and classifies the response. Implementations never
// return errors; failures are reported as StatusFailed outcomes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) Outcome
}

// Sink accepts records from any number of goroutines.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// Queue is a FIFO of URL tasks with completion tracking.
type Queue interface {
	Enqueue(ctx context.Context, task URLTask) error
	Dequeue(ctx context.Context) (URLTask, error)
	// Done marks one dequeued task as finished.
	Done()
	// Wait blocks until every enqueued task has been marked done or ctx ends.
	Wait(ctx context.Context) error
	// Close tells blocked and future Dequeue callers to stop.
	Close()
}

// Mirror receives a copy of every record after it has been persisted.
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, rec Record) error
}
