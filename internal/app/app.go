// Package app provides the run lifecycle for sparkify-etl: configuration,
// storage roots, the pipeline and the end-of-run metrics push.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sparkify/sparkify-etl/internal/config"
	"github.com/sparkify/sparkify-etl/internal/engine"
	apperrors "github.com/sparkify/sparkify-etl/internal/errors"
	"github.com/sparkify/sparkify-etl/internal/logging"
	"github.com/sparkify/sparkify-etl/internal/metrics"
	"github.com/sparkify/sparkify-etl/internal/pipeline"
	"github.com/sparkify/sparkify-etl/internal/storage"
)

// App runs one ETL job.
type App struct {
	cfg     *config.Config
	logger  *logging.ComponentLogger
	metrics *metrics.Metrics

	// Shared resources
	input  *storage.Root
	output *storage.Root
}

// New creates a new App with the given configuration.
func New(cfg *config.Config, logger *logging.ComponentLogger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewConfigError(apperrors.CodeInvalidConfig, "invalid configuration", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, apperrors.NewConfigError(apperrors.CodeInvalidConfig, "failed to create directories", err)
	}

	if logger == nil {
		logger = logging.Nop()
	}

	return &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
	}, nil
}

// Metrics returns the run metrics.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Run executes the stages selected by the configured mode.
func (a *App) Run(ctx context.Context) (*pipeline.Summary, error) {
	if err := a.initSharedResources(ctx); err != nil {
		return nil, err
	}

	loc, err := a.cfg.Location()
	if err != nil {
		return nil, apperrors.NewConfigError(apperrors.CodeInvalidConfig, "time zone", err)
	}

	p, err := pipeline.New(pipeline.Options{
		Input:       a.input,
		Output:      a.output,
		WorkDir:     a.cfg.WorkDir,
		KeepWorkDir: a.cfg.KeepWorkDir,
		Location:    loc,
		Engine: engine.Config{
			Threads:     a.cfg.Engine.Threads,
			MemoryLimit: a.cfg.Engine.MemoryLimit,
		},
		Concurrency: a.cfg.Storage.Concurrency,
		Logger:      a.logger,
		Metrics:     a.metrics,
	})
	if err != nil {
		return nil, apperrors.NewInternalError("build pipeline", err)
	}

	a.logger.Info().
		Str("run_id", p.RunID()).
		Str("mode", string(a.cfg.Mode)).
		Str("input", a.input.Location.String()).
		Str("output", a.output.Location.String()).
		Str("time_zone", loc.String()).
		Msg("Starting ETL run")

	var summary *pipeline.Summary
	switch {
	case a.cfg.ShouldRunSongs() && a.cfg.ShouldRunLogs():
		summary, err = p.Run(ctx)
	case a.cfg.ShouldRunSongs():
		summary, err = p.RunSongs(ctx)
	default:
		summary, err = p.RunLogs(ctx)
	}

	a.pushMetrics()

	if err != nil {
		return summary, err
	}

	a.logger.Info().
		Str("run_id", summary.RunID).
		Int("stages", len(summary.Stages)).
		Dur("duration", summary.Duration).
		Msg("ETL run completed")
	return summary, nil
}

// initSharedResources loads credentials and opens the input and output roots.
func (a *App) initSharedResources(ctx context.Context) error {
	creds, err := config.LoadCredentials(a.cfg.CredentialsFile)
	if err != nil {
		return apperrors.NewConfigError(apperrors.CodeCredentials, "load credentials", err)
	}
	if creds.IsZero() {
		a.logger.Debug().Str("file", a.cfg.CredentialsFile).Msg("No credentials file keys, using default AWS chain")
	}

	s3Cfg := storage.DefaultS3Config()
	if a.cfg.Storage.Region != "" {
		s3Cfg.Region = a.cfg.Storage.Region
	}
	s3Cfg.Endpoint = a.cfg.Storage.Endpoint
	s3Cfg.UsePathStyle = a.cfg.Storage.UsePathStyle
	s3Cfg.MaxAttempts = a.cfg.Storage.MaxAttempts
	s3Cfg.AccessKeyID = creds.AccessKeyID
	s3Cfg.SecretAccessKey = creds.SecretAccessKey
	s3Cfg.SessionToken = creds.SessionToken

	a.input, err = openRoot(ctx, a.cfg.Input, s3Cfg)
	if err != nil {
		return err
	}
	a.output, err = openRoot(ctx, a.cfg.Output, s3Cfg)
	if err != nil {
		return err
	}

	a.logger.Info().
		Str("input", a.input.Location.String()).
		Str("output", a.output.Location.String()).
		Str("region", s3Cfg.Region).
		Str("endpoint", s3Cfg.Endpoint).
		Str("credentials", creds.String()).
		Msg("Storage initialized")
	return nil
}

func openRoot(ctx context.Context, raw string, s3Cfg storage.S3Config) (*storage.Root, error) {
	loc, err := storage.ParseLocation(raw)
	if err != nil {
		return nil, apperrors.NewConfigError(apperrors.CodeInvalidConfig, "parse location", err)
	}
	root, err := storage.Open(ctx, loc, s3Cfg)
	if err != nil {
		return nil, apperrors.NewStorageError(apperrors.CodeStorageInit, fmt.Sprintf("open %s", loc), err)
	}
	return root, nil
}

// pushMetrics sends the run metrics to the Pushgateway. Failures are logged.
func (a *App) pushMetrics() {
	url := a.cfg.Metrics.PushgatewayURL
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.metrics.Push(ctx, url, a.cfg.Metrics.Job); err != nil {
		a.logger.Warn().Err(err).Msg("Metrics push failed")
		return
	}
	a.logger.Debug().Str("url", url).Msg("Metrics pushed")
}
