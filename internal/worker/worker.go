// Package worker implements the fetch pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlfetch/internal/metrics"
	"github.com/JakeFAU/urlfetch/internal/pipeline"
	"github.com/JakeFAU/urlfetch/internal/telemetry"
)

// Stats aggregates outcome counts across every worker sharing it.
type Stats struct {
	Succeeded atomic.Int64
	Skipped   atomic.Int64
	Failed    atomic.Int64
}

// Processed returns the number of tasks that reached a terminal outcome.
func (s *Stats) Processed() int64 {
	return s.Succeeded.Load() + s.Skipped.Load() + s.Failed.Load()
}

// Worker consumes queue items, fetches them and forwards successes to the sink.
type Worker struct {
	id      int
	queue   pipeline.Queue
	fetcher pipeline.Fetcher
	sink    pipeline.Sink
	stats   *Stats
	logger  *zap.Logger
}

// New constructs a Worker. A nil stats or logger is replaced with a private one.
func New(
	id int,
	queue pipeline.Queue,
	fetcher pipeline.Fetcher,
	sink pipeline.Sink,
	stats *Stats,
	logger *zap.Logger,
) *Worker {
	if stats == nil {
		stats = &Stats{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:      id,
		queue:   queue,
		fetcher: fetcher,
		sink:    sink,
		stats:   stats,
		logger:  logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the queue is closed or the context
// finishes.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug("worker started")
	defer w.logger.Debug("worker stopped")
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, pipeline.ErrQueueStopped) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task pipeline.URLTask) {
	// Done runs even if the fetch or sink panics so Wait never hangs.
	defer w.queue.Done()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := telemetry.Tracer().Start(ctx, "fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(semconv.URLFull(task.URL), attribute.Int64("urlfetch.seq", task.Seq)),
	)
	defer span.End()

	out := w.fetcher.Fetch(ctx, task.URL)
	metrics.ObserveFetch(task.URL, string(out.Status), string(out.Kind), out.Duration)
	annotateSpan(span, out)

	fields := []zap.Field{
		zap.String("url", task.URL),
		zap.Int64("seq", task.Seq),
		zap.Duration("duration", out.Duration),
	}
	if out.StatusCode != 0 {
		fields = append(fields, zap.Int("status_code", out.StatusCode))
	}
	if sc := span.SpanContext(); sc.IsValid() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}

	switch out.Status {
	case pipeline.StatusSuccess:
		w.handleSuccess(ctx, out, fields)
	case pipeline.StatusSkipped:
		w.stats.Skipped.Add(1)
		w.logger.Warn("fetch skipped", append(fields, zap.String("reason", out.Reason))...)
	default:
		w.stats.Failed.Add(1)
		w.logger.Error("fetch failed", append(fields, zap.String("reason", out.Reason))...)
	}
}

func (w *Worker) handleSuccess(ctx context.Context, out pipeline.Outcome, fields []zap.Field) {
	rec, err := out.Record()
	if err != nil {
		w.stats.Failed.Add(1)
		w.logger.Error("build record failed", append(fields, zap.Error(err))...)
		return
	}
	if err := w.sink.Write(ctx, rec); err != nil {
		w.stats.Failed.Add(1)
		metrics.ObserveSinkError("sink")
		w.logger.Error("sink write failed", append(fields, zap.Error(err))...)
		return
	}
	w.stats.Succeeded.Add(1)
	w.logger.Debug("fetch succeeded", append(fields, zap.String("kind", string(out.Kind)))...)
}

func annotateSpan(span trace.Span, out pipeline.Outcome) {
	span.SetAttributes(attribute.String("urlfetch.status", string(out.Status)))
	if out.StatusCode != 0 {
		span.SetAttributes(semconv.HTTPResponseStatusCode(out.StatusCode))
	}
	if out.Kind != "" {
		span.SetAttributes(attribute.String("urlfetch.kind", string(out.Kind)))
	}
	if out.Status == pipeline.StatusFailed {
		span.SetStatus(codes.Error, out.Reason)
	}
}
