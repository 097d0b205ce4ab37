// Package dispatcher manages worker fan-out over the work queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlfetch/internal/pipeline"
	"github.com/JakeFAU/urlfetch/internal/worker"
)

// ErrInvalidPoolSize is returned when a pool is requested with fewer than one worker.
var ErrInvalidPoolSize = errors.New("worker pool size must be greater than zero")

// Dispatcher fans out queue work to a fixed pool of workers.
type Dispatcher struct {
	queue   pipeline.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher over pre-built workers.
func New(queue pipeline.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// NewPool builds size symmetric workers sharing the fetcher, sink and stats.
func NewPool(
	size int,
	queue pipeline.Queue,
	fetcher pipeline.Fetcher,
	sink pipeline.Sink,
	stats *worker.Stats,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPoolSize, size)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := make([]*worker.Worker, 0, size)
	for i := range size {
		workers = append(workers, worker.New(i, queue, fetcher, sink, stats, logger.Named("worker")))
	}
	return New(queue, workers), nil
}

// Size returns the number of workers in the pool.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until every one of them has returned.
// Workers return once the queue is closed or ctx finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Start runs the pool in the background. The returned channel is closed once
// every worker has returned.
func (d *Dispatcher) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	return done
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, task pipeline.URLTask) error {
	if err := d.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
