// Package sink persists pipeline records as newline-delimited JSON. A single
// goroutine owns the destination; workers hand records to it over a channel.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlfetch/internal/metrics"
	"github.com/JakeFAU/urlfetch/internal/pipeline"
)

// ErrClosed is returned by Write after Close has been called.
var ErrClosed = errors.New("sink closed")

const defaultBufferSize = 64

// Config controls buffering and fan-out for the Writer.
//   - BufferSize: records that may wait for the writer goroutine (default 64).
//   - Mirrors: optional side outputs, called in order after each line is written.
//   - BaseContext: parent context passed to mirrors (defaults to context.Background()).
//   - Logger: optional structured logger.
type Config struct {
	BufferSize  int
	Mirrors     []pipeline.Mirror
	BaseContext context.Context
	Logger      *zap.Logger
}

// entry carries one record to the writer goroutine and the outcome of its
// line back to the caller. ack is buffered so the writer never blocks on it.
type entry struct {
	rec pipeline.Record
	ack chan error
}

// Writer serializes records from many goroutines onto one io.WriteCloser.
type Writer struct {
	cfg     Config
	dst     io.WriteCloser
	enc     *json.Encoder
	records chan entry
	done    chan struct{}
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool

	closeOnce sync.Once
	closeErr  error

	// writeErr is owned by the run goroutine until done is closed.
	writeErr error
	written  atomic.Int64
}

// NewWriter starts the writer goroutine for dst. The Writer takes ownership of
// dst and closes it in Close.
func NewWriter(dst io.WriteCloser, cfg Config) *Writer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	enc := json.NewEncoder(dst)
	// Upstream text passes through unchanged.
	enc.SetEscapeHTML(false)

	w := &Writer{
		cfg:     cfg,
		dst:     dst,
		enc:     enc,
		records: make(chan entry, cfg.BufferSize),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go w.run()
	return w
}

// Write hands rec to the writer goroutine and returns once its line has been
// written to the destination, reporting the encode or write error if any. It
// blocks while the buffer is full; ctx only bounds that wait, since a record
// that was handed off is always written before Close returns.
func (w *Writer) Write(ctx context.Context, rec pipeline.Record) error {
	ack, err := w.enqueue(ctx, rec)
	if err != nil {
		return err
	}
	return <-ack
}

func (w *Writer) enqueue(ctx context.Context, rec pipeline.Record) (<-chan error, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return nil, ErrClosed
	}
	e := entry{rec: rec, ack: make(chan error, 1)}
	select {
	case w.records <- e:
		return e.ack, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("sink write canceled: %w", ctx.Err())
	}
}

// Written reports how many records have been written to the destination.
func (w *Writer) Written() int64 {
	return w.written.Load()
}

// Close drains buffered records, closes the destination and returns the first
// error encountered while writing or closing.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.records)
		w.mu.Unlock()

		<-w.done
		var closeErr error
		if err := w.dst.Close(); err != nil {
			closeErr = fmt.Errorf("close destination: %w", err)
		}
		w.closeErr = errors.Join(w.writeErr, closeErr)
	})
	return w.closeErr
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.records {
		if err := w.enc.Encode(e.rec); err != nil {
			err = fmt.Errorf("encode record: %w", err)
			if w.writeErr == nil {
				w.writeErr = err
			}
			metrics.ObserveSinkError("destination")
			w.logger.Error("record write failed", zap.String("url", e.rec.URL), zap.Error(err))
			e.ack <- err
			continue
		}
		w.written.Add(1)
		metrics.ObserveRecordWritten(string(e.rec.Content.Type))
		e.ack <- nil
		w.mirror(e.rec)
	}
}

func (w *Writer) mirror(rec pipeline.Record) {
	for _, m := range w.cfg.Mirrors {
		if err := m.Mirror(w.cfg.BaseContext, rec); err != nil {
			metrics.ObserveSinkError(m.Name())
			w.logger.Warn("record mirror failed",
				zap.String("mirror", m.Name()),
				zap.String("url", rec.URL),
				zap.Error(err),
			)
		}
	}
}
