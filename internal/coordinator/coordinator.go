// Package coordinator owns one pipeline run: it starts the worker pool, feeds
// the queue from a URL source, waits for every task to finish and then stops
// the pool.
package coordinator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlfetch/internal/dispatcher"
	"github.com/JakeFAU/urlfetch/internal/id/uuid"
	"github.com/JakeFAU/urlfetch/internal/metrics"
	"github.com/JakeFAU/urlfetch/internal/pipeline"
	"github.com/JakeFAU/urlfetch/internal/worker"
)

// DefaultWorkers is the pool size used when Config.Workers is zero.
const DefaultWorkers = 5

const maxLineBytes = 1 << 20

// State is a coordinator lifecycle phase.
type State string

// Lifecycle phases, in order.
const (
	StateIdle         State = "idle"
	StateRunning      State = "running"
	StateDraining     State = "draining"
	StateShuttingDown State = "shutting_down"
	StateTerminated   State = "terminated"
)

// PendingReporter is implemented by queues that can report outstanding work.
type PendingReporter interface {
	Pending() int64
}

// Config wires the collaborators of a run.
type Config struct {
	Workers int
	Queue   pipeline.Queue
	Fetcher pipeline.Fetcher
	Sink    pipeline.Sink
	Logger  *zap.Logger
	// NewRunID overrides run id generation.
	NewRunID func() string
}

// Summary describes a finished run.
type Summary struct {
	RunID     string
	Enqueued  int64
	Succeeded int64
	Skipped   int64
	Failed    int64
	Duration  time.Duration
}

// Progress is a point-in-time view of a running pipeline.
type Progress struct {
	Enqueued  int64
	Processed int64
}

// Coordinator drives a single pipeline run. It is not reusable: the queue is
// closed at the end of Run.
type Coordinator struct {
	cfg      Config
	logger   *zap.Logger
	state    atomic.Value // State
	stats    *worker.Stats
	enqueued atomic.Int64
}

// New validates cfg and returns a Coordinator in the idle state.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("%w: got %d", dispatcher.ErrInvalidPoolSize, cfg.Workers)
	}
	if cfg.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = uuid.NewRunID
	}
	c := &Coordinator{
		cfg:    cfg,
		logger: cfg.Logger.Named("coordinator"),
		stats:  &worker.Stats{},
	}
	c.state.Store(StateIdle)
	return c, nil
}

// State reports the current lifecycle phase. It may be called concurrently
// with Run.
func (c *Coordinator) State() State {
	return c.state.Load().(State)
}

// Progress may be called concurrently with Run.
func (c *Coordinator) Progress() Progress {
	return Progress{
		Enqueued:  c.enqueued.Load(),
		Processed: c.stats.Processed(),
	}
}

// Run reads one URL per line from source, fetches each with the worker pool
// and returns once every enqueued URL has been processed and the pool has
// stopped. A read error from source is returned after the work already
// enqueued has drained.
func (c *Coordinator) Run(ctx context.Context, source io.Reader) (Summary, error) {
	if !c.state.CompareAndSwap(StateIdle, StateRunning) {
		return Summary{}, fmt.Errorf("coordinator already %s", c.State())
	}
	start := time.Now()
	runID := c.cfg.NewRunID()
	logger := c.logger.With(zap.String("run_id", runID))
	logTransition(logger, StateIdle, StateRunning)
	stats := c.stats

	pool, err := dispatcher.NewPool(c.cfg.Workers, c.cfg.Queue, c.cfg.Fetcher, c.cfg.Sink, stats, logger)
	if err != nil {
		c.transition(logger, StateTerminated)
		return Summary{}, err
	}

	poolDone := pool.Start(ctx)

	enqueued, produceErr := c.produce(ctx, pool, source)

	c.transition(logger, StateDraining)
	waitErr := c.cfg.Queue.Wait(ctx)

	c.transition(logger, StateShuttingDown)
	c.cfg.Queue.Close()
	<-poolDone
	c.reportPending()

	c.transition(logger, StateTerminated)
	summary := Summary{
		RunID:     runID,
		Enqueued:  enqueued,
		Succeeded: stats.Succeeded.Load(),
		Skipped:   stats.Skipped.Load(),
		Failed:    stats.Failed.Load(),
		Duration:  time.Since(start),
	}
	logger.Info("run finished",
		zap.Int("workers", pool.Size()),
		zap.Int64("enqueued", summary.Enqueued),
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("skipped", summary.Skipped),
		zap.Int64("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)

	return summary, errors.Join(produceErr, waitErr)
}

func (c *Coordinator) produce(ctx context.Context, pool *dispatcher.Dispatcher, source io.Reader) (int64, error) {
	scanner := bufio.NewScanner(source)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var seq int64
	for scanner.Scan() {
		seq++
		task := pipeline.URLTask{URL: strings.TrimSpace(scanner.Text()), Seq: seq}
		if err := pool.Enqueue(ctx, task); err != nil {
			return seq - 1, fmt.Errorf("enqueue line %d: %w", seq, err)
		}
		c.enqueued.Add(1)
		c.reportPending()
	}
	if err := scanner.Err(); err != nil {
		return seq, fmt.Errorf("read url source: %w", err)
	}
	return seq, nil
}

func (c *Coordinator) reportPending() {
	if q, ok := c.cfg.Queue.(PendingReporter); ok {
		metrics.SetQueuePending(int(q.Pending()))
	}
}

func (c *Coordinator) transition(logger *zap.Logger, next State) {
	logTransition(logger, c.State(), next)
	c.state.Store(next)
}

func logTransition(logger *zap.Logger, from, to State) {
	logger.Debug("state transition", zap.String("from", string(from)), zap.String("to", string(to)))
}
