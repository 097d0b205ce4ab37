package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlfetch/internal/app"
	"github.com/JakeFAU/urlfetch/internal/config"
	"github.com/JakeFAU/urlfetch/internal/coordinator"
	"github.com/JakeFAU/urlfetch/internal/logging"
)

// newFetchCmd creates the 'fetch' subcommand.
func newFetchCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch every URL in the input and write results as JSON lines",
		Long: `Reads newline-separated URLs from --input (or stdin with "-"), fetches them
with --workers concurrent workers and writes one record per successful fetch
to --output, which may be a local path, "-" for stdout or a gs://bucket/object
URI. Non-200 responses and other content types are skipped; errors are logged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, *cfgFile)
		},
	}

	flags := cmd.Flags()
	flags.StringP("input", "i", "urls.txt", `file with one URL per line ("-" for stdin)`)
	flags.StringP("output", "o", "results.jsonl", `JSONL destination: path, "-" or gs://bucket/object`)
	flags.IntP("workers", "w", coordinator.DefaultWorkers, "number of concurrent workers")
	flags.Int("timeout", 30, "per-request timeout in seconds")
	flags.Bool("progress", false, "render a progress bar on stderr")

	return cmd
}

func runFetch(cmd *cobra.Command, cfgFile string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var logOpts []zap.Option
	if f := cfg.Logging.File; f.Path != "" {
		opt, closer := logging.WithFile(logging.FileConfig{
			Path:       f.Path,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		})
		defer func() { _ = closer.Close() }()
		logOpts = append(logOpts, opt)
	}
	logger, err := logging.New(cfg.Logging.Development, logOpts...)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	instance, err := app.Build(ctx, cfg, logger, app.Options{Stdin: cmd.InOrStdin()})
	if err != nil {
		return fmt.Errorf("failed to initialize run: %w", err)
	}
	defer func() {
		if cerr := instance.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("failed to release run resources", zap.Error(cerr))
		}
	}()

	stopProgress := func() {}
	if show, _ := cmd.Flags().GetBool("progress"); show {
		stopProgress = watchProgress(cmd.ErrOrStderr(), instance, progressInterval)
	}
	summary, err := instance.Run(ctx)
	stopProgress()
	printSummary(cmd.ErrOrStderr(), summary)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run interrupted", zap.Error(err))
			return nil
		}
		return fmt.Errorf("run pipeline: %w", err)
	}
	return nil
}

func printSummary(w io.Writer, s coordinator.Summary) {
	_, _ = fmt.Fprintf(w, "run %s: %d urls, %d written, %d skipped, %d failed in %s\n",
		s.RunID, s.Enqueued, s.Succeeded, s.Skipped, s.Failed, s.Duration.Round(time.Millisecond))
}
