package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"HydrophoneStreamer/internal/config"
	"HydrophoneStreamer/internal/domain"
	"HydrophoneStreamer/internal/infrastructure/convert"
	"HydrophoneStreamer/internal/infrastructure/httpfetch"
	"HydrophoneStreamer/internal/infrastructure/onc"
	"HydrophoneStreamer/internal/infrastructure/ooi"
	"HydrophoneStreamer/internal/infrastructure/scheduler"
	"HydrophoneStreamer/internal/infrastructure/storage"
	"HydrophoneStreamer/internal/logging"
	"HydrophoneStreamer/internal/metrics"
	"HydrophoneStreamer/internal/provider"
	"HydrophoneStreamer/internal/usecase"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

const shutdownTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	provider  provider.Provider
	pipeline  *usecase.Pipeline
	scheduler *usecase.Scheduler
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New validates the stream setting against the selected network and builds
// every adapter. Network validation may issue requests, hence the context.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	network, err := provider.ParseNetwork(cfg.Network)
	if err != nil {
		return nil, err
	}

	saveDir, err := storage.NewSaveDir(cfg.SaveDir, cfg.Poll.Retention)
	if err != nil {
		return nil, err
	}

	hc := httpfetch.NewClient(nil, httpfetch.Options{
		Timeout:           cfg.HTTP.Timeout,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		UserAgent:         cfg.HTTP.UserAgent,
	})

	active, err := newRegistry(cfg, hc, baseLogger).Build(ctx, network)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	m.BuildInfo.WithLabelValues(Version, string(network)).Set(1)

	normalizer := convert.NewNormalizer(
		convert.FFmpeg{Path: cfg.Convert.FFmpegPath},
		baseLogger.With("component", "convert"),
	)

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Provider:   active,
		SaveDir:    saveDir,
		Normalizer: normalizer,
		Metrics:    m,
		Logger:     baseLogger.With("component", "pipeline", "network", string(network)),
	})

	loop := scheduler.NewPollLoop(scheduler.Options{
		IdleDelay:   cfg.Poll.IdleDelay,
		StopOnError: cfg.Poll.StopOnError,
	}, baseLogger.With("component", "scheduler"))

	return &Application{
		cfg:       cfg,
		provider:  active,
		pipeline:  pipeline,
		scheduler: usecase.NewScheduler(loop, pipeline),
		metrics:   m,
		logger:    baseLogger,
	}, nil
}

// newRegistry registers a factory per implemented network; only the selected
// one is ever built.
func newRegistry(cfg config.Config, hc *httpfetch.Client, logger *slog.Logger) *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register(domain.NetworkONC, func(context.Context) (provider.Provider, error) {
		return onc.New(onc.Options{
			BaseURL:  cfg.ONC.BaseURL,
			Token:    cfg.ONC.Token,
			SaveDir:  cfg.SaveDir,
			RowLimit: cfg.ONC.RowLimit,
			Delay:    cfg.ONC.Delay,
			OrderTTL: cfg.ONC.OrderTTL,
		}, cfg.StreamSetting, hc, logger.With("component", "provider.onc"))
	})
	registry.Register(domain.NetworkOOI, func(ctx context.Context) (provider.Provider, error) {
		return ooi.NewScanner(ctx, ooi.Options{
			ArchivePrefix: cfg.OOI.ArchivePrefix,
			SaveDir:       cfg.SaveDir,
			MinFileSize:   cfg.OOI.MinFileSize,
			Delay:         cfg.OOI.Delay,
		}, cfg.StreamSetting, hc, logger.With("component", "provider.ooi"))
	})
	return registry
}

// Provider returns the active network implementation.
func (a *Application) Provider() provider.Provider {
	return a.provider
}

// RunOnce executes a single fetch cycle.
func (a *Application) RunOnce(ctx context.Context) (domain.CycleResult, error) {
	return a.pipeline.RunCycle(ctx)
}

// Run starts the polling loop and, when configured, the metrics endpoint.
// It returns when ctx is cancelled or the loop stops on an error.
func (a *Application) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := a.scheduler.Start(gctx); err != nil {
		return fmt.Errorf("start polling loop: %w", err)
	}
	a.logger.Info("streamer started",
		"network", a.provider.Network(),
		"save_dir", a.cfg.SaveDir,
		"idle_delay", a.cfg.Poll.IdleDelay,
	)

	g.Go(func() error {
		return a.scheduler.Wait()
	})

	if a.cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return a.metrics.Serve(gctx, a.cfg.Metrics.Addr, a.logger.With("component", "metrics"))
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.scheduler.Stop(stopCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info("streamer stopped")
	return err
}
