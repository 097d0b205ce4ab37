// Package app builds the long-lived resources of one fetch run, runs the
// pipeline alongside the optional metrics server and releases everything on
// Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/JakeFAU/urlfetch/internal/config"
	"github.com/JakeFAU/urlfetch/internal/coordinator"
	collyfetcher "github.com/JakeFAU/urlfetch/internal/fetcher/colly"
	"github.com/JakeFAU/urlfetch/internal/id/uuid"
	"github.com/JakeFAU/urlfetch/internal/pipeline"
	gcppublisher "github.com/JakeFAU/urlfetch/internal/publisher/pubsub"
	"github.com/JakeFAU/urlfetch/internal/queue/memory"
	"github.com/JakeFAU/urlfetch/internal/server"
	"github.com/JakeFAU/urlfetch/internal/sink"
	mongostore "github.com/JakeFAU/urlfetch/internal/storage/mongo"
	pgstore "github.com/JakeFAU/urlfetch/internal/storage/postgres"
	"github.com/JakeFAU/urlfetch/internal/telemetry"
)

const stdinIdentifier = "-"

// Options carries process-level collaborators that are not part of Config.
type Options struct {
	// Stdin is read when the input is "-". Defaults to os.Stdin.
	Stdin io.Reader
	// StorageOptions are passed to the Cloud Storage client.
	StorageOptions []option.ClientOption
	// PubSubOptions are passed to the Pub/Sub client.
	PubSubOptions []option.ClientOption
	// TracerOptions are passed to the trace provider when tracing is enabled.
	TracerOptions []sdktrace.TracerProviderOption

	openInput func(path string) (io.ReadCloser, error)
}

// App holds the resources of a single run.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	input          io.Reader
	inputCloser    io.Closer
	storage        *storage.Client
	writer         *sink.Writer
	publisher      *gcppublisher.Publisher
	resultStore    *pgstore.ResultStore
	documentStore  *mongostore.ResultStore
	tracerProvider *sdktrace.TracerProvider
	coordinator    *coordinator.Coordinator
	metricsServer  *server.Server
}

// Build acquires every resource the run needs. Any failure releases what was
// already acquired and aborts before a single URL is fetched.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		runID:  uuid.NewRunID(),
	}
	built := false
	defer func() {
		if built {
			return
		}
		if closeErr := app.Close(context.WithoutCancel(ctx)); closeErr != nil {
			logger.Warn("release partially built app", zap.Error(closeErr))
		}
	}()

	app.logger.Info("building run", zap.String("run_id", app.runID),
		zap.String("input", cfg.Input),
		zap.String("output", cfg.Output),
		zap.Int("workers", cfg.Pipeline.Workers),
	)

	if err := app.setupTracing(ctx, opts); err != nil {
		return nil, err
	}
	if err := app.setupInput(opts); err != nil {
		return nil, err
	}
	mirrors, err := app.setupMirrors(ctx, opts)
	if err != nil {
		return nil, err
	}
	// Opened last so a failed build never finalizes an empty GCS object.
	dst, err := app.setupOutput(ctx, opts)
	if err != nil {
		return nil, err
	}

	app.writer = sink.NewWriter(dst, sink.Config{
		BufferSize:  cfg.Pipeline.SinkBuffer,
		Mirrors:     mirrors,
		BaseContext: context.WithoutCancel(ctx),
		Logger:      logger.Named("sink"),
	})

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.RequestTimeout(),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})

	coord, err := coordinator.New(coordinator.Config{
		Workers:  cfg.Pipeline.Workers,
		Queue:    memory.NewQueue(cfg.Pipeline.QueueDepth),
		Fetcher:  fetcher,
		Sink:     app.writer,
		Logger:   logger,
		NewRunID: func() string { return app.runID },
	})
	if err != nil {
		return nil, fmt.Errorf("coordinator init failed: %w", err)
	}
	app.coordinator = coord

	if cfg.Metrics.Addr != "" {
		app.metricsServer = server.New(cfg.Metrics.Addr, logger.Named("metrics"))
	}
	built = true
	return app, nil
}

// RunID identifies this run in logs, mirrors and the summary.
func (a *App) RunID() string {
	return a.runID
}

// Progress reports how far the current run has got.
func (a *App) Progress() coordinator.Progress {
	return a.coordinator.Progress()
}

// Run executes the pipeline to completion and flushes the sink. When a metrics
// address is configured the server runs for the duration of the pipeline; a
// server failure cancels the pipeline.
func (a *App) Run(ctx context.Context) (coordinator.Summary, error) {
	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if a.metricsServer != nil {
		g.Go(func() error {
			return a.metricsServer.Run(serverCtx)
		})
	}

	var summary coordinator.Summary
	g.Go(func() error {
		defer stopServer()
		var runErr error
		summary, runErr = a.coordinator.Run(gctx, a.input)
		if closeErr := a.writer.Close(); closeErr != nil {
			runErr = errors.Join(runErr, fmt.Errorf("close sink: %w", closeErr))
		}
		return runErr
	})

	err := g.Wait()
	a.logger.Info("results flushed",
		zap.String("run_id", a.runID),
		zap.String("output", a.cfg.Output),
		zap.Int64("written", a.writer.Written()),
	)
	return summary, err
}

// Close releases every acquired resource. It is safe to call on a partially
// built App and more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.writer != nil {
		if err := a.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
	}
	if a.inputCloser != nil {
		if err := a.inputCloser.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("close input: %w", err))
		}
		a.inputCloser = nil
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
		a.publisher = nil
	}
	if a.resultStore != nil {
		a.resultStore.Close()
		a.resultStore = nil
	}
	if a.documentStore != nil {
		if err := a.documentStore.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		a.documentStore = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage client: %w", err))
		}
		a.storage = nil
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
		a.tracerProvider = nil
	}
	return errors.Join(errs...)
}

func (a *App) setupTracing(ctx context.Context, opts Options) error {
	if !a.cfg.Tracing.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Tracing.ServiceName, opts.TracerOptions...)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerProvider = tp
	a.logger.Debug("tracing enabled", zap.String("service", a.cfg.Tracing.ServiceName))
	return nil
}

func (a *App) setupInput(opts Options) error {
	if a.cfg.Input == stdinIdentifier {
		a.input = opts.Stdin
		if a.input == nil {
			a.input = os.Stdin
		}
		return nil
	}
	open := opts.openInput
	if open == nil {
		open = func(path string) (io.ReadCloser, error) { return os.Open(path) }
	}
	f, err := open(a.cfg.Input)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	a.input = f
	a.inputCloser = f
	return nil
}

func (a *App) setupOutput(ctx context.Context, opts Options) (io.WriteCloser, error) {
	if !sink.IsGCS(a.cfg.Output) {
		dst, err := sink.OpenFile(a.cfg.Output)
		if err != nil {
			return nil, fmt.Errorf("open output: %w", err)
		}
		return dst, nil
	}
	client, err := storage.NewClient(ctx, opts.StorageOptions...)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.storage = client
	// The upload outlives Build's ctx; it is finalized when the sink closes.
	dst, err := sink.OpenGCS(context.WithoutCancel(ctx), client, a.cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	a.logger.Debug("writing results to cloud storage", zap.String("uri", a.cfg.Output))
	return dst, nil
}

func (a *App) setupMirrors(ctx context.Context, opts Options) ([]pipeline.Mirror, error) {
	var mirrors []pipeline.Mirror

	if ps := a.cfg.Mirrors.PubSub; ps.Enabled() {
		pub, err := gcppublisher.Open(ctx, ps.ProjectID, ps.TopicID, a.runID, opts.PubSubOptions...)
		if err != nil {
			return nil, fmt.Errorf("pubsub mirror init failed: %w", err)
		}
		a.publisher = pub
		mirrors = append(mirrors, pub)
		a.logger.Info("Pub/Sub mirror initialized",
			zap.String("project", ps.ProjectID),
			zap.String("topic", ps.TopicID),
		)
	}

	if pg := a.cfg.Mirrors.Postgres; pg.Enabled() {
		store, err := pgstore.NewResultStore(ctx, pgstore.ResultStoreConfig{
			DSN:   pg.DSN,
			Table: pg.Table,
			RunID: a.runID,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres mirror init failed: %w", err)
		}
		a.resultStore = store
		if err := store.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("postgres mirror init failed: %w", err)
		}
		mirrors = append(mirrors, store)
		a.logger.Info("Postgres mirror initialized", zap.String("table", pg.Table))
	}

	if m := a.cfg.Mirrors.Mongo; m.Enabled() {
		store, err := mongostore.NewResultStore(ctx, mongostore.ResultStoreConfig{
			URI:        m.URI,
			Database:   m.Database,
			Collection: m.Collection,
			RunID:      a.runID,
		})
		if err != nil {
			return nil, fmt.Errorf("mongo mirror init failed: %w", err)
		}
		a.documentStore = store
		mirrors = append(mirrors, store)
		a.logger.Info("MongoDB mirror initialized",
			zap.String("database", m.Database),
			zap.String("collection", m.Collection),
		)
	}

	return mirrors, nil
}
