package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estatecrm_backend/internal/attribution"
	"estatecrm_backend/internal/events"
	"estatecrm_backend/internal/exports"
	"estatecrm_backend/internal/funnel"
	apphttp "estatecrm_backend/internal/http"
	"estatecrm_backend/internal/http/router"
	"estatecrm_backend/internal/realtime"
	"estatecrm_backend/internal/scheduler"
	"estatecrm_backend/internal/scoring"
	"estatecrm_backend/migrations"
	"estatecrm_backend/platform/cache"
	"estatecrm_backend/platform/config"
	"estatecrm_backend/platform/db"
	"estatecrm_backend/platform/logger"
	"estatecrm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS, ".")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Result cache backed by redis
	store, closeStore, err := initCacheStore(cfg, log)
	if err != nil {
		log.Error("failed to initialize result cache", "error", err)
		panic("failed to initialize result cache: " + err.Error())
	}
	defer closeStore()
	log.Info("result cache initialized", "ttl", cfg.GetResultCacheTTL())

	tasks, closeTasks := initTaskClient(cfg, log)
	if closeTasks != nil {
		defer closeTasks()
	}

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	funnelModule := funnel.NewModule(pool, store, eventBus, val, cfg, log)

	// Scoring reads the funnel stage for conversion-aware scoring
	scoringModule, err := scoring.NewModule(pool, store, funnelModule.Service(), eventBus, val, cfg, log)
	if err != nil {
		log.Error("failed to initialize scoring module", "error", err)
		panic("failed to initialize scoring module: " + err.Error())
	}

	if tasks != nil {
		// Background score recalculation rides the same task queue as exports.
		scoringModule.Service().SetRecalculator(tasks)
	}

	attributionModule, err := attribution.NewModule(ctx, pool, store, eventBus, val, log)
	if err != nil {
		log.Error("failed to initialize attribution module", "error", err)
		panic("failed to initialize attribution module: " + err.Error())
	}

	exportsModule := exports.NewModule(pool, tasks, val, cfg, log)

	// Realtime hub subscribes to the event bus and fans out over websockets
	realtimeModule := realtime.NewModule(eventBus, cfg, log)
	defer realtimeModule.Hub().Close()

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			funnelModule,
			scoringModule,
			attributionModule,
			exportsModule,
			realtimeModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = shutdownCtx
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initCacheStore(cfg config.CacheConfig, log *logger.Logger) (cache.Store, func(), error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, nil, err
	}

	client := redis.NewClient(opt)
	store := cache.NewRedisStore(client, cfg.GetResultCacheTTL(), log)
	return store, func() { _ = client.Close() }, nil
}

func initTaskClient(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; analytics exports disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize task client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
