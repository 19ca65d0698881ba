// Package bootstrap assembles the queue manager and its collaborators from
// configuration. Optional infrastructure (Postgres history, Kafka) is wired
// only when configured; an unreachable Redis selects the inline backend.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/go-audit-jobs/internal/cache"
	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
	"github.com/ramiqadoumi/go-audit-jobs/internal/handlers"
	"github.com/ramiqadoumi/go-audit-jobs/internal/inventory"
	"github.com/ramiqadoumi/go-audit-jobs/internal/kafka"
	"github.com/ramiqadoumi/go-audit-jobs/internal/postgres"
	"github.com/ramiqadoumi/go-audit-jobs/internal/queue"
	redisstore "github.com/ramiqadoumi/go-audit-jobs/internal/redis"
	"github.com/ramiqadoumi/go-audit-jobs/internal/storage"
)

// Config is everything needed to build the job core.
type Config struct {
	WorkerID     string
	RedisAddr    string
	PostgresDSN  string // empty disables history
	KafkaBrokers []string
	EventsTopic  string
	DLQTopic     string
	ResultTTL    time.Duration
	PollInterval time.Duration

	Queues   []domain.QueueDefinition
	Mappings []inventory.FieldMapping // nil uses the stock mappings
	Rules    inventory.Rules
	Scoring  inventory.Scoring
	Storage  storage.Config
	AI       handlers.AnalysisConfig
	SMTP     handlers.EmailConfig
}

// App holds the wired core. Fields for optional infrastructure are nil
// when it is not configured or not reachable.
type App struct {
	Manager  *queue.Manager
	Registry *handlers.Registry
	Results  *cache.Results
	Redis    *redis.Client
	Limiter  redisstore.RateLimiter
	History  postgres.JobRepository
	Producer kafka.Producer
	Sink     *kafka.EventSink
	// ConfigErrors lists the queues that failed to register.
	ConfigErrors []error

	logger  *slog.Logger
	closers []func()
}

// Build wires the core. Only a storage misconfiguration or an unreachable
// Postgres (when a DSN is given) fail it: everything else degrades.
func Build(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	app := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	opener, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	bus := queue.NewEventBus()
	registry := handlers.NewRegistry()
	app.Registry = registry

	opts := []queue.Option{
		queue.WithEvents(bus),
		queue.WithLogger(logger),
		queue.WithWorkerID(cfg.WorkerID),
	}
	if cfg.PollInterval > 0 {
		opts = append(opts, queue.WithPollInterval(cfg.PollInterval))
	}

	if cfg.PostgresDSN != "" {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		app.closers = append(app.closers, pool.Close)
		app.History = postgres.NewRepository(pool)
		opts = append(opts, queue.WithHistory(app.History))
	}

	if len(cfg.KafkaBrokers) > 0 {
		app.Producer = kafka.NewProducer(cfg.KafkaBrokers)
		app.closers = append(app.closers, func() { _ = app.Producer.Close() })
		if cfg.DLQTopic != "" {
			opts = append(opts, queue.WithDeadLetter(app.Producer, cfg.DLQTopic))
		}
		if cfg.EventsTopic != "" {
			app.Sink = kafka.NewEventSink(app.Producer, cfg.EventsTopic, 0, logger)
			bus.Subscribe(app.Sink.Listen)
		}
	}

	client := redisstore.NewClient(cfg.RedisAddr)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err = client.Ping(pingCtx).Err()
	cancel()

	var (
		primary queue.Backend
		mopts   = []queue.ManagerOption{queue.WithEventBus(bus), queue.WithManagerLogger(logger)}
	)
	if err != nil {
		_ = client.Close()
		logger.Warn("redis unreachable at startup, running every queue inline",
			slog.String("redis_addr", cfg.RedisAddr),
			slog.String("error", err.Error()),
			slog.Bool("degraded", true),
		)
		app.Results = cache.NewResults(cache.NewMemory(), cfg.ResultTTL)
		primary = queue.NewInline(registry, opts...)
	} else {
		app.Redis = client
		app.closers = append(app.closers, func() { _ = client.Close() })
		app.Limiter = redisstore.NewRateLimiter(client, time.Second)
		app.Results = cache.NewResults(cache.NewFailover(redisstore.NewResultCache(client, "auditjobs:"), cache.NewMemory()), cfg.ResultTTL)
		primary = queue.NewDurable(redisstore.NewStateStore(client), registry, opts...)
		mopts = append(mopts, queue.WithFallback(queue.NewInline(registry, opts...)))
	}
	mopts = append(mopts, queue.WithResults(app.Results))
	app.Manager = queue.NewManager(primary, mopts...)

	registerHandlers(registry, cfg, opener, app, logger)

	for _, def := range cfg.Queues {
		if err := app.Manager.Register(def); err != nil {
			var cfgErr *domain.ConfigurationError
			if !errors.As(err, &cfgErr) {
				return nil, fmt.Errorf("register queue %s: %w", def.Name, err)
			}
			logger.Error("queue not registered", slog.String("queue", def.Name), slog.String("error", err.Error()))
			app.ConfigErrors = append(app.ConfigErrors, err)
		}
	}

	ok = true
	return app, nil
}

func registerHandlers(r *handlers.Registry, cfg Config, opener storage.Opener, app *App, logger *slog.Logger) {
	pipeline := inventory.NewPipeline(cfg.Mappings, cfg.Rules, cfg.Scoring)
	r.Register(handlers.NewETLHandler(opener, pipeline, app.Results, logger))
	r.Register(handlers.NewTextAnalysisHandler(cfg.AI))
	r.Register(handlers.NewImageAnalysisHandler(cfg.AI, opener))
	r.Register(handlers.NewEmailHandler(cfg.SMTP, app.Results))
	r.Register(handlers.NewWebhookHandler(app.Results))
	r.Register(handlers.NewCleanHandler(app.Manager, logger))
	r.Register(handlers.NewPurgeResultsHandler(app.Results))
}

// Ready reports whether the primary backend and the result cache answer.
func (a *App) Ready(ctx context.Context) error {
	if err := a.Manager.Ping(ctx); err != nil {
		return err
	}
	return a.Results.Ping(ctx)
}

// Start launches the worker pools and the event sink.
func (a *App) Start(ctx context.Context) {
	if a.Sink != nil {
		done := make(chan struct{})
		go func() {
			defer close(done)
			a.Sink.Run(ctx)
		}()
		a.closers = append(a.closers, func() { <-done })
	}
	a.Manager.Start(ctx)
}

// Wait blocks until every pool has drained.
func (a *App) Wait() { a.Manager.Wait() }

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
