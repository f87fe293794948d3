// Package main - точка входа HTTP-сервиса прогресса обучения.
//
// Сервис начисляет XP за учебные события, считает уровни и серии
// ежедневных входов, выдаёт значки и отдаёт статистику по HTTP.
//
// Архитектура:
// - Domain: чистые правила прогресса (уровни, награды, значки, серии)
// - Application: команды, запросы и обработчики событий
// - Infrastructure: PostgreSQL, Redis, шина событий, метрики
// - Interface: HTTP API
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/learnmatch/progression/config"
	"github.com/learnmatch/progression/internal/application/command"
	"github.com/learnmatch/progression/internal/application/eventhandler"
	"github.com/learnmatch/progression/internal/application/query"
	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
	"github.com/learnmatch/progression/internal/infrastructure/messaging"
	"github.com/learnmatch/progression/internal/infrastructure/metrics"
	"github.com/learnmatch/progression/internal/infrastructure/persistence/memory"
	"github.com/learnmatch/progression/internal/infrastructure/persistence/postgres"
	"github.com/learnmatch/progression/internal/infrastructure/persistence/redis"
	"github.com/learnmatch/progression/internal/infrastructure/persistence/resilient"
	"github.com/learnmatch/progression/internal/infrastructure/scheduler"
	"github.com/learnmatch/progression/internal/infrastructure/scheduler/jobs"
	httpserver "github.com/learnmatch/progression/internal/interface/http"
	"github.com/learnmatch/progression/internal/interface/http/handlers"
	"github.com/learnmatch/progression/pkg/circuitbreaker"
	"github.com/learnmatch/progression/pkg/logger"
	"github.com/learnmatch/progression/pkg/timeutil"
)

// statsCache - кеш снимков статистики (Redis или память процесса).
type statsCache interface {
	query.StatsCache
	command.StatsInvalidator
}

// eventBus - шина доменных событий.
type eventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	Close() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─── 1. ЗАГРУЗКА КОНФИГУРАЦИИ ───────────────────────────────────────────
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ─── 2. НАСТРОЙКА ЛОГИРОВАНИЯ ───────────────────────────────────────────
	logOpts := logger.DefaultOptions()
	logOpts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	logOpts.Format = cfg.Observability.LogFormat
	logOpts.FilePath = cfg.Observability.LogFile
	log := logger.New(logOpts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)
	defer func() { _ = log.Sync() }()

	log.Info("starting progression service", logger.String("timezone", cfg.App.Timezone))

	// ─── 3. КАЛЕНДАРЬ ───────────────────────────────────────────────────────
	calendar := timeutil.NewCalendar(timeutil.SystemClock{}, cfg.App.Location)

	// ─── 4. ХРАНИЛИЩЕ ПРОГРЕССА ─────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	var (
		store  progress.Store
		dbConn *postgres.Connection
	)
	if cfg.Database.URL != "" {
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = cfg.Database.MaxConns
		pgCfg.MinConns = cfg.Database.MinConns
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
		pgCfg.ConnectTimeout = cfg.Database.ConnectTimeout

		dbConn, err = postgres.Open(ctx, pgCfg, log)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer dbConn.Close()
		log.Info("connected to PostgreSQL")

		// ─── 5. МИГРАЦИИ ────────────────────────────────────────────────────
		if cfg.Database.AutoMigrate {
			migrator := postgres.NewMigrator(dbConn)
			if err := migrator.Migrate(ctx); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			if status, err := migrator.Status(ctx); err == nil {
				applied := 0
				for _, m := range status {
					if m.IsApplied {
						applied++
					}
				}
				log.Info("migrations completed",
					logger.Int("applied", applied),
					logger.Int("total", len(status)),
				)
			}
		}

		store = postgres.NewProgressStore(dbConn)
		health.AddCheck("database", handlers.NewPingCheck(dbConn))
	} else {
		log.Warn("DATABASE_URL is empty, progress is kept in memory and lost on restart")
		store = memory.NewStore()
	}

	guarded := resilient.NewStore(store, log,
		circuitbreaker.WithFailureThreshold(cfg.Resilience.BreakerThreshold),
		circuitbreaker.WithTimeout(cfg.Resilience.BreakerTimeout),
	)
	health.AddCheck("store_breaker", handlers.NewBreakerCheck("store", guarded))

	// ─── 6. МЕТРИКИ ─────────────────────────────────────────────────────────
	recorder := metrics.NewRecorder()

	// ─── 7. REDIS И ШИНА СОБЫТИЙ ────────────────────────────────────────────
	localBus := messaging.InMemoryEventBusConfig{
		AsyncMode:       true,
		WorkerPoolSize:  cfg.Resilience.EventWorkers,
		HandlerAttempts: cfg.Resilience.HandlerAttempts,
		Logger:          log,
		Observer:        recorder,
	}

	var (
		cache       statsCache
		idempotency command.IdempotencyStore
		bus         eventBus
		pruneJob    *jobs.PruneExpiredJob
	)
	if cfg.Redis.Enabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err := redis.NewCache(redisCfg)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer func() { _ = redisCache.Close() }()
		log.Info("connected to Redis", logger.String("addr", redisCfg.Addr()))

		cache = redis.NewStatsCache(redisCache, cfg.Redis.StatsTTL)
		idempotency = redis.NewIdempotencyStore(redisCache)

		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewPubSub(redisCache),
			ChannelName:    cfg.Redis.EventChannel,
			InstanceID:     uuid.NewString(),
			LocalBusConfig: localBus,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("start redis event bus: %w", err)
		}
		bus = redisBus
		health.AddOptionalCheck("redis", handlers.NewPingCheck(redisCache))
	} else {
		log.Info("redis disabled, using in-process cache and event bus")
		memCache := memory.NewStatsCache(cfg.Redis.StatsTTL, timeutil.SystemClock{})
		memClaims := memory.NewIdempotencyStore(timeutil.SystemClock{})
		cache, idempotency = memCache, memClaims
		bus = messaging.NewInMemoryEventBus(localBus)

		pruneJob = jobs.NewPruneExpiredJob(log).
			Add("stats_cache", memCache).
			Add("idempotency", memClaims)
	}

	// ─── 8. ОБРАБОТЧИКИ СОБЫТИЙ ─────────────────────────────────────────────
	feed := eventhandler.NewAchievementFeed(cfg.Progress.AchievementFeedSize, cfg.Progress.AchievementFeedUsers)
	if err := eventhandler.NewOnProgressChangedHandler(cache, log).Register(bus); err != nil {
		return fmt.Errorf("register progress handler: %w", err)
	}
	if err := eventhandler.NewOnAchievementHandler(feed, log).Register(bus); err != nil {
		return fmt.Errorf("register achievement handler: %w", err)
	}

	// ─── 9. КОМАНДЫ ─────────────────────────────────────────────────────────
	updater := command.NewUpdater(guarded, calendar, log,
		command.WithPublisher(bus),
		command.WithIdempotency(idempotency),
		command.WithStatsInvalidator(cache),
		command.WithMetrics(recorder),
		command.WithFeatures(cfg.Features),
		command.WithConfig(command.UpdaterConfig{
			MaxAttempts:    cfg.Progress.MaxUpdateAttempts,
			IdempotencyTTL: cfg.Progress.IdempotencyTTL,
		}),
	)

	// ─── 10. HTTP СЕРВЕР ────────────────────────────────────────────────────
	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.RequestTimeout = cfg.HTTP.RequestTimeout
	httpCfg.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimit
	httpCfg.AdminAPIKeys = cfg.HTTP.AdminAPIKeys
	httpCfg.Version = cfg.App.Version

	deps := httpserver.Dependencies{
		AwardXP:       command.NewAwardXPHandler(updater),
		RecordEvent:   command.NewRecordLearningEventHandler(updater),
		GetStats:      query.NewGetStatsHandler(guarded, calendar, cache, cfg.Features, log),
		GetBadgeBoard: query.NewGetBadgeBoardHandler(guarded, calendar),
		GetXPHistory:  query.NewGetXPHistoryHandler(guarded),
		Achievements:  feed,
		Features:      cfg.Features,
		HealthChecker: health,
		Logger:        log,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = recorder
	}
	server := httpserver.NewServer(httpCfg, deps)

	// ─── 11. ФОНОВЫЕ ЗАДАЧИ ─────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{Logger: log, Observer: recorder})
	if pruneJob != nil {
		if err := sched.Register(pruneJob, scheduler.Every(cfg.Progress.PruneInterval)); err != nil {
			return fmt.Errorf("register prune job: %w", err)
		}
	}

	// ─── 12. ЗАПУСК И GRACEFUL SHUTDOWN ─────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if err := sched.Start(gctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	g.Go(server.Start)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", logger.Err(err))
		}
		if err := sched.Stop(); err != nil {
			log.Error("scheduler stop failed", logger.Err(err))
		}
		if err := bus.Close(); err != nil {
			log.Error("event bus close failed", logger.Err(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown complete")
	return nil
}
