package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/failover/internal/core/config"
	"github.com/vietddude/failover/internal/core/worker"
	"github.com/vietddude/failover/internal/health"
	"github.com/vietddude/failover/internal/infra/provider"
	"github.com/vietddude/failover/internal/infra/resilience"
	"github.com/vietddude/failover/internal/infra/routing"
	"github.com/vietddude/failover/internal/infra/storage"
	"github.com/vietddude/failover/internal/infra/storage/memory"
	"github.com/vietddude/failover/internal/infra/storage/postgres"
	redisstore "github.com/vietddude/failover/internal/infra/storage/redis"
	"github.com/vietddude/failover/internal/recovery"
)

// App is the main application struct that manages the failover service lifecycle.
type App struct {
	cfg          *config.AppConfig
	service      *resilience.Service
	selector     *routing.Selector
	engine       *recovery.Engine
	logs         storage.RecoveryLogRepository
	queue        storage.JobQueueRepository
	queueWorker  *worker.QueueWorker
	pruner       *worker.Pruner
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisstore.Client
	closers      []func() error
	log          *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewApp creates a new App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	a := &App{cfg: cfg, log: slog.Default()}

	// 1. Initialize Storage
	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}

	// 2. Initialize Resilience Service
	a.service = resilience.NewService(
		resilience.WithLogger(a.log),
		resilience.WithDefaults(cfg.Presets.Get("default")),
	)

	// 3. Initialize Providers & Selector
	a.selector = routing.NewSelector(a.service, routing.Strategy(cfg.Routing.Strategy))
	for _, pc := range cfg.Providers {
		p, err := a.buildProvider(pc)
		if err != nil {
			a.closeAll()
			return nil, err
		}
		a.selector.AddProvider(p, pc.Priority)
		a.log.Info("Registered provider", "name", pc.Name, "transport", pc.Transport, "priority", pc.Priority)
	}
	if len(cfg.Providers) == 0 {
		a.log.Warn("No providers configured")
	}

	// 4. Initialize Recovery Engine
	a.engine = recovery.NewEngine(
		a.selector,
		recovery.WithCircuits(a.service),
		recovery.WithLogStore(a.logs),
		recovery.WithQueue(a.queue),
		recovery.WithDegradation(recovery.NewDegradationPolicy(cfg.Degradation.Steps)),
		recovery.WithJitter(cfg.Recovery.JitterFactor),
		recovery.WithLogger(a.log),
	)

	// 5. Initialize Workers
	a.queueWorker = worker.NewQueueWorker(worker.QueueConfig{
		PollInterval: cfg.Queue.PollInterval,
		BatchSize:    cfg.Queue.BatchSize,
		MaxAttempts:  cfg.Queue.MaxAttempts,
	}, a.queue, a.engine, nil)
	a.pruner = worker.NewPruner(cfg.Retention.RecoveryLogs, a.logs, nil)

	// 6. Initialize Health Server
	monitor := health.NewMonitor(a.selector, a.service, a.queue)
	a.healthServer = health.NewServer(monitor, a.service, a.engine, cfg.Server.Port)

	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, a.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		a.logs = postgres.NewRecoveryLogRepo(db)
		a.queue = postgres.NewJobQueueRepo(db)
		a.log.Info("Using PostgreSQL storage")

	case config.BackendRedis:
		client, err := redisstore.NewClient(a.cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to init redis: %w", err)
		}
		a.redisClient = client
		a.closers = append(a.closers, client.Close)
		a.logs = redisstore.NewRecoveryLogRepo(client)
		a.queue = redisstore.NewJobQueueRepo(client)
		a.log.Info("Using Redis storage")

	default:
		store := memory.NewMemoryStorage()
		a.logs = memory.NewLogRepo(store)
		a.queue = memory.NewQueueRepo(store)
		a.log.Info("Using Memory storage")
	}
	return nil
}

func (a *App) buildProvider(pc config.ProviderConfig) (provider.Provider, error) {
	var inner provider.Provider
	switch pc.Transport {
	case config.TransportGRPC:
		p, err := provider.NewGRPCProvider(pc.Name, pc.URL, pc.Method, pc.APIKey, pc.Capabilities)
		if err != nil {
			return nil, fmt.Errorf("failed to create grpc provider %s: %w", pc.Name, err)
		}
		a.closers = append(a.closers, p.Close)
		inner = p
	default:
		inner = provider.NewHTTPProvider(pc.Name, pc.URL, pc.APIKey, pc.Capabilities, pc.Timeout)
	}

	preset := a.cfg.Presets.Get(pc.Preset)
	return provider.NewResilient(inner, a.service, preset, pc.Timeout, provider.NewMonitor(nil)), nil
}

// Engine returns the recovery engine.
func (a *App) Engine() *recovery.Engine { return a.engine }

// Service returns the resilience service.
func (a *App) Service() *resilience.Service { return a.service }

// Selector returns the provider selector.
func (a *App) Selector() *routing.Selector { return a.selector }

// HealthServer returns the health server.
func (a *App) HealthServer() *health.Server { return a.healthServer }

// Start launches the health server and background workers. It returns
// immediately; Wait blocks until they exit.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.group != nil {
		return errors.New("app already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	a.cancel = cancel
	a.group = g

	// Start Health Server
	g.Go(func() error {
		a.log.Info("Starting health server", "port", a.cfg.Server.Port)
		if err := a.healthServer.Start(); err != nil {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})

	// Start DB Metrics Collector
	if a.db != nil {
		a.db.StartMetricsCollector(gctx)
	}

	// Start Queue Worker
	g.Go(func() error {
		a.log.Info("Starting queue worker", "interval", a.cfg.Queue.PollInterval)
		a.queueWorker.Start(gctx)
		return nil
	})

	// Start Pruner
	g.Go(func() error {
		a.pruner.Start(gctx)
		return nil
	})

	return nil
}

// Wait blocks until every started component has exited.
func (a *App) Wait() error {
	a.mu.Lock()
	g := a.group
	a.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop stops the workers and health server and releases connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping failover service...")

	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	// Stop Health Server
	err := a.healthServer.Stop(ctx)
	if werr := a.Wait(); werr != nil && err == nil {
		err = werr
	}

	a.closeAll()
	return err
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}
