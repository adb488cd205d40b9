// Package app wires configuration, binary acquisition, staging, and the
// ffmpeg orchestrator into the operations the CLI exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/mediastage/internal/acquire"
	"github.com/jmylchreest/mediastage/internal/config"
	"github.com/jmylchreest/mediastage/internal/ffmpeg"
	"github.com/jmylchreest/mediastage/internal/httpclient"
	"github.com/jmylchreest/mediastage/internal/observability"
	"github.com/jmylchreest/mediastage/internal/scheduler"
	"github.com/jmylchreest/mediastage/internal/startup"
	"github.com/jmylchreest/mediastage/internal/storage"
	"github.com/jmylchreest/mediastage/internal/urlutil"
	"github.com/jmylchreest/mediastage/internal/version"
)

// ErrNotAcquired is returned when a job is submitted before ffmpeg is available.
var ErrNotAcquired = errors.New("ffmpeg has not been acquired")

// App is the mediastage application.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	fetcher *urlutil.Fetcher
	staging *storage.Staging
	sweeper *scheduler.Sweeper
	started time.Time

	mu           sync.Mutex
	acquired     *acquire.Result
	orchestrator *ffmpeg.Orchestrator
}

// New creates the application and its staging directory. Nothing is
// downloaded or spawned until Acquire or a job method is called.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	staging, err := storage.NewStaging(cfg.Storage.StagingPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("initializing staging: %w", err)
	}

	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.Acquire.HTTPTimeout
	clientCfg.RetryAttempts = cfg.Acquire.RetryAttempts
	clientCfg.UserAgent = version.UserAgent()
	clientCfg.Logger = observability.WithComponent(logger, "httpclient")

	sweeper := scheduler.NewSweeper(staging, cfg.Storage.SweepSchedule, cfg.Storage.SweepMaxAge.Duration()).
		WithLogger(observability.WithComponent(logger, "sweeper"))

	return &App{
		cfg:     cfg,
		logger:  logger,
		fetcher: urlutil.NewFetcher(httpclient.New(clientCfg)),
		staging: staging,
		sweeper: sweeper,
		started: time.Now(),
	}, nil
}

// Config returns the application configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Staging returns the staging area.
func (a *App) Staging() *storage.Staging {
	return a.staging
}

// Start runs the startup purge in the background, removes abandoned partial
// downloads, and starts the periodic staging sweep. The startup purge only
// touches files staged before New, so jobs may run while it is in flight.
// The returned channel delivers the startup purge result.
func (a *App) Start(ctx context.Context) (<-chan storage.PurgeResult, error) {
	purged := startup.PurgeStagingAsync(a.logger, a.staging, a.started)

	if dest, err := a.newPipeline("").Destination(); err == nil {
		if _, err := startup.CleanupPartialDownloads(a.logger, dest, startup.DefaultPartialAge); err != nil {
			a.logger.Warn("failed to clean partial downloads", slog.String("error", err.Error()))
		}
	}

	if err := a.sweeper.Start(ctx); err != nil {
		return purged, fmt.Errorf("starting staging sweeper: %w", err)
	}
	return purged, nil
}

// Stop stops background work.
func (a *App) Stop() {
	a.sweeper.Stop()
}

// Acquire makes sure an ffmpeg binary is available. destination overrides the
// configured install directory when non-empty. On success the orchestrator is
// bound to the resolved binary.
func (a *App) Acquire(ctx context.Context, destination string) (*acquire.Result, error) {
	result, err := a.newPipeline(destination).Run(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.acquired = result
	a.orchestrator = ffmpeg.NewOrchestrator(result.Binary.Path, a.cfg.FFmpeg.LogLevel, a.logger)
	a.mu.Unlock()

	return result, nil
}

// Acquired returns the last successful acquisition, or nil.
func (a *App) Acquired() *acquire.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acquired
}

// Orchestrator returns the orchestrator, acquiring ffmpeg first if needed.
func (a *App) Orchestrator(ctx context.Context) (*ffmpeg.Orchestrator, error) {
	a.mu.Lock()
	o := a.orchestrator
	a.mu.Unlock()
	if o != nil {
		return o, nil
	}

	if _, err := a.Acquire(ctx, ""); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orchestrator, nil
}

// Stage writes data into the staging area under a fresh owner.
func (a *App) Stage(data []byte, originalName string) (storage.StagedFile, error) {
	return a.staging.Stage(data, originalName)
}

// PlanOutput returns a staging path for an operation's output.
func (a *App) PlanOutput(originalName string, op ffmpeg.Operation, format string) (string, error) {
	return a.staging.PlanOutputPath(originalName, string(op), format)
}

// Finalize moves a staged output to its final path.
func (a *App) Finalize(stagedPath, finalPath string) error {
	return a.staging.Finalize(stagedPath, finalPath)
}

// Purge deletes every regular file directly inside dir. An empty dir means
// the staging directory.
func (a *App) Purge(dir string) storage.PurgeResult {
	if dir == "" {
		return a.staging.Purge()
	}
	return storage.Purge(a.logger, dir)
}

// Remux copies the streams of input into output's container.
func (a *App) Remux(ctx context.Context, input, output string) (string, error) {
	o, err := a.Orchestrator(ctx)
	if err != nil {
		return "", err
	}
	return o.Remux(ctx, input, output)
}

// Transcode re-encodes input into output.
func (a *App) Transcode(ctx context.Context, input, output, encoding string) (string, error) {
	o, err := a.Orchestrator(ctx)
	if err != nil {
		return "", err
	}
	return o.Transcode(ctx, input, output, encoding)
}

// Trim cuts input between start and end.
func (a *App) Trim(ctx context.Context, input, output, start, end string) (string, error) {
	o, err := a.Orchestrator(ctx)
	if err != nil {
		return "", err
	}
	return o.Trim(ctx, input, output, start, end)
}

// Submit runs job on its own goroutine. ffmpeg must already be acquired.
func (a *App) Submit(ctx context.Context, job ffmpeg.Job) (*ffmpeg.Handle, error) {
	a.mu.Lock()
	o := a.orchestrator
	a.mu.Unlock()
	if o == nil {
		return nil, ErrNotAcquired
	}
	return o.Submit(ctx, job), nil
}

func (a *App) newPipeline(destination string) *acquire.Pipeline {
	opts := acquire.OptionsFromConfig(a.cfg)
	if destination != "" {
		opts.Destination = destination
	}
	return acquire.NewPipeline(opts, a.fetcher, a.logger)
}
