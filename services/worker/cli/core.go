package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-audit-jobs/internal/bootstrap"
	"github.com/ramiqadoumi/go-audit-jobs/internal/version"
	"github.com/ramiqadoumi/go-audit-jobs/pkg/telemetry"
	"github.com/ramiqadoumi/go-audit-jobs/services/worker/config"
)

// core is what every long-running subcommand starts from.
type core struct {
	cfg      config.Config
	logger   *slog.Logger
	app      *bootstrap.App
	workerID string
	shutdown func()
}

func (c *core) Close() {
	c.app.Close()
	c.shutdown()
}

// startCore loads configuration, starts tracing and builds the queue manager.
func startCore(service string) (*core, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s-%s", service, hostname, uuid.New().String()[:8])
	cfg.Core.WorkerID = workerID

	logger := buildLogger(cfg.LogLevel, service).With(slog.String("worker_id", workerID))

	shutdownTracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "go-audit-jobs-" + service,
		ServiceVersion: version.Version,
		Endpoint:       cfg.OTelEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}

	app, err := bootstrap.Build(context.Background(), cfg.Core, logger)
	if err != nil {
		shutdownTracer()
		return nil, err
	}
	if len(app.ConfigErrors) > 0 {
		logger.Warn("some queues are disabled by configuration errors",
			slog.Int("count", len(app.ConfigErrors)),
		)
	}
	return &core{cfg: cfg, logger: logger, app: app, workerID: workerID, shutdown: shutdownTracer}, nil
}

// signalContext is cancelled on SIGTERM or SIGINT.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case <-quit:
			logger.Info("shutting down, draining in-flight jobs...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(quit)
	}()
	return ctx, cancel
}
