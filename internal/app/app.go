// Package app initializes and holds the long-lived services of a run, acting
// as a small dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/training-status/internal/clock/system"
	"github.com/JakeFAU/training-status/internal/config"
	"github.com/JakeFAU/training-status/internal/id"
	"github.com/JakeFAU/training-status/internal/metrics"
	"github.com/JakeFAU/training-status/internal/progress"
	"github.com/JakeFAU/training-status/internal/progress/sinks"
	pubsubnotify "github.com/JakeFAU/training-status/internal/publisher/pubsub"
	"github.com/JakeFAU/training-status/internal/server"
	"github.com/JakeFAU/training-status/internal/storage/gcs"
	"github.com/JakeFAU/training-status/internal/storage/postgres"
	"github.com/JakeFAU/training-status/internal/telemetry"
)

// App holds the services shared by one training run: the status publisher
// and its sinks, the optional metrics registry, and the tracer provider.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	runID     string
	metrics   *metrics.Metrics
	publisher *progress.Publisher
	fileSink  *sinks.FileSink
	tracer    *trace.TracerProvider
}

// New builds the services cfg asks for. Nothing is written to disk until the
// first snapshot is published.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := id.NewRunID()
	a := &App{
		cfg:    cfg,
		runID:  runID,
		logger: logger.With(zap.String("run_id", runID)),
	}

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing, runID)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.tracer = tp
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(metrics.Registry())
	}

	if cfg.Status.Enabled {
		pub, file, err := a.buildPublisher(ctx)
		if err != nil {
			return nil, multierr.Append(err, a.shutdownTracer(ctx))
		}
		a.publisher = pub
		a.fileSink = file
		a.logger.Info("status publishing enabled",
			zap.String("path", file.Path()),
			zap.Uint64("cadence", cfg.Status.Cadence),
		)
	} else {
		a.logger.Info("status publishing disabled")
	}
	return a, nil
}

func (a *App) buildPublisher(ctx context.Context) (*progress.Publisher, *sinks.FileSink, error) {
	file, err := sinks.NewFileSink(a.cfg.Status.ExportDir, a.cfg.Status.Filename, a.logger.Named("status_file"))
	if err != nil {
		return nil, nil, fmt.Errorf("status file sink: %w", err)
	}
	sinkList := []progress.Sink{file}
	if a.cfg.Status.LogSnapshots {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("status")))
	}
	if a.metrics != nil {
		promSink, err := sinks.NewPrometheusSink(a.metrics.Registerer())
		if err != nil {
			return nil, nil, fmt.Errorf("status prometheus sink: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	mirrors, err := a.buildMirrors(ctx)
	if err != nil {
		return nil, nil, err
	}
	sinkList = append(sinkList, mirrors...)
	var observer progress.Observer
	if a.metrics != nil {
		observer = a.metrics
	}
	pub := progress.NewPublisher(progress.PublisherConfig{
		SinkTimeout: a.cfg.SinkTimeout(),
		Logger:      a.logger.Named("publisher"),
		Observer:    observer,
	}, sinkList...)
	return pub, file, nil
}

// buildMirrors opens the remote sinks configured under sinks.*. Mirrors
// already opened are closed again when a later one fails.
func (a *App) buildMirrors(ctx context.Context) ([]progress.Sink, error) {
	var mirrors []progress.Sink
	fail := func(err error) ([]progress.Sink, error) {
		for _, m := range mirrors {
			err = multierr.Append(err, m.Close(ctx))
		}
		return nil, err
	}

	sc := a.cfg.Sinks
	if sc.GCS.Enabled() {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fail(fmt.Errorf("gcs client: %w", err))
		}
		mirror, err := gcs.New(client, gcs.Config{Bucket: sc.GCS.Bucket, Object: sc.GCS.Object})
		if err != nil {
			return fail(multierr.Append(fmt.Errorf("gcs mirror: %w", err), client.Close()))
		}
		a.logger.Info("mirroring status to gcs", zap.String("uri", mirror.URI()))
		mirrors = append(mirrors, mirror)
	}
	if sc.Postgres.Enabled() {
		store, err := postgres.NewStatusStore(ctx, postgres.StatusStoreConfig{
			DSN:             sc.Postgres.DSN,
			Table:           sc.Postgres.Table,
			RunID:           a.runID,
			MaxConns:        sc.Postgres.MaxConns,
			MaxConnLifetime: a.cfg.PostgresMaxConnLifetime(),
		})
		if err != nil {
			return fail(fmt.Errorf("postgres mirror: %w", err))
		}
		a.logger.Info("mirroring status to postgres", zap.String("table", sc.Postgres.Table))
		mirrors = append(mirrors, store)
	}
	if sc.PubSub.Enabled() {
		notifier, err := pubsubnotify.New(ctx, pubsubnotify.Config{
			ProjectID: sc.PubSub.ProjectID,
			Topic:     sc.PubSub.Topic,
			RunID:     a.runID,
		})
		if err != nil {
			return fail(fmt.Errorf("pubsub notifier: %w", err))
		}
		a.logger.Info("announcing phase changes", zap.String("topic", sc.PubSub.Topic))
		mirrors = append(mirrors, notifier)
	}
	return mirrors, nil
}

// RunID returns the identifier attached to this run's logs.
func (a *App) RunID() string { return a.runID }

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// StatusPath returns the status file path, or "" when publishing is disabled.
func (a *App) StatusPath() string {
	if a.fileSink == nil {
		return ""
	}
	return a.fileSink.Path()
}

// NewTracker creates the run's tracker. It returns nil when status
// publishing is disabled; a nil tracker ignores every call.
func (a *App) NewTracker() (*progress.Tracker, error) {
	tracker, err := progress.NewTracker(progress.TrackerConfig{
		Enabled:             a.publisher != nil,
		TotalIterations:     a.cfg.Training.TotalIterations,
		ExportPath:          a.cfg.Status.ExportDir,
		Cadence:             a.cfg.Status.Cadence,
		FinalPublishTimeout: a.cfg.FinalTimeout(),
		RunID:               a.runID,
	}, a.publisher, system.New(), a.logger.Named("tracker"))
	if err != nil {
		return nil, fmt.Errorf("create tracker: %w", err)
	}
	return tracker, nil
}

// Server returns the HTTP endpoint for this run, or nil when metrics are disabled.
func (a *App) Server() *server.Server {
	if a.metrics == nil {
		return nil
	}
	return server.New(a.metrics, a.runID, a.logger.Named("http"))
}

// Dropped reports how many snapshots the publisher discarded.
func (a *App) Dropped() int64 {
	return a.publisher.Dropped()
}

// Close drains the publisher and flushes the tracer provider.
func (a *App) Close(ctx context.Context) error {
	var errs error
	if a.publisher != nil {
		if err := a.publisher.Close(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close status publisher: %w", err))
		}
		if dropped := a.publisher.Dropped(); dropped > 0 {
			a.logger.Info("status snapshots dropped during run", zap.Int64("dropped", dropped))
		}
	}
	errs = multierr.Append(errs, a.shutdownTracer(ctx))
	return errs
}

func (a *App) shutdownTracer(ctx context.Context) error {
	if a.tracer == nil {
		return nil
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer: %w", err)
	}
	return nil
}
