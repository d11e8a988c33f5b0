// Package main is the entry point for the progression engine API server.
//
// The server ingests habit events from the host application, serves
// progression and challenge reads, and publishes outbound events for other
// subsystems. Background sweeps run in the worker binary.
//
// The architecture follows Clean Architecture and DDD:
// - Domain: pure progression/challenge/achievement logic
// - Application: use case orchestration (Commands/Queries/Event handlers)
// - Infrastructure: postgres, redis, event bus, scheduler
// - Interface: HTTP endpoints
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/habitforge/progression-hub/config"
	"github.com/habitforge/progression-hub/internal/application/command"
	"github.com/habitforge/progression-hub/internal/application/eventhandler"
	"github.com/habitforge/progression-hub/internal/application/query"
	"github.com/habitforge/progression-hub/internal/domain/achievement"
	"github.com/habitforge/progression-hub/internal/domain/challenge"
	"github.com/habitforge/progression-hub/internal/domain/progression"
	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/internal/infrastructure/messaging"
	"github.com/habitforge/progression-hub/internal/infrastructure/persistence/postgres"
	"github.com/habitforge/progression-hub/internal/infrastructure/persistence/redis"
	httpserver "github.com/habitforge/progression-hub/internal/interface/http"
	"github.com/habitforge/progression-hub/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	appLog, slogger := setupLoggers(cfg)
	appLog.Info("starting progression hub server",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.Bool("debug", cfg.App.Debug),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	appLog.Info("connecting to database")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	if cfg.Database.MigrateOnStart {
		appLog.Info("running database migrations")
		migrator := postgres.NewMigrator(dbConn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache       *redis.Cache
		idempotencyCache command.IdempotencyCache
		progressionCache *redis.ProgressionCache
		standingsCache   *redis.StandingsCache
	)
	if !cfg.Redis.Disabled {
		appLog.Info("connecting to redis")
		redisCache, err = redis.NewCache(redisConfigFrom(cfg))
		if err != nil {
			// The engine stays correct without redis: idempotency falls back
			// to postgres and reads skip the cache.
			appLog.Warn("redis unavailable, running without cache", logger.Err(err))
			redisCache = nil
		} else {
			defer redisCache.Close()
			idempotencyCache = redis.NewIdempotencyCache(redisCache)
			progressionCache = redis.NewProgressionCache(redisCache)
			standingsCache = redis.NewStandingsCache(redisCache)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = slogger

	var bus shared.EventBus
	if redisCache != nil {
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redisCache.Client(),
			LocalBusConfig: busConfig,
			Logger:         slogger,
		})
		if err != nil {
			return fmt.Errorf("failed to create event bus: %w", err)
		}
		defer redisBus.Close()
		bus = redisBus
	} else {
		memBus := messaging.NewInMemoryEventBus(busConfig)
		defer memBus.Close()
		bus = memBus
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. DOMAIN SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	curve := progression.CurveParams{
		Coefficient: cfg.Engine.CurveCoefficient,
		Exponent:    cfg.Engine.CurveExponent,
	}
	evaluator := achievement.NewEvaluator(achievement.DefaultCatalog())
	ledger := progression.NewTokenLedger()
	ledger.Cap = cfg.Engine.MaxForgivenessTokens

	recoveryCfg := challenge.DefaultRecoveryConfig()
	recoveryCfg.BaseHabitXP = cfg.Engine.BaseHabitXP
	recoveryCfg.BaseDays = cfg.Engine.RecoveryBaseDays
	recoveryCfg.PerMissedDay = cfg.Engine.RecoveryPerMissedDay
	recoveryCfg.MaxDays = cfg.Engine.RecoveryMaxDays
	recoveryCfg.RewardPerDayFactor = cfg.Engine.RecoveryRewardFactor
	recoveryCfg.MaxRewardFactor = cfg.Engine.RecoveryMaxFactor
	manager := challenge.NewManager(recoveryCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	recordRepo := postgres.NewProgressionRepository(dbConn)
	grantRepo := postgres.NewGrantRepository(dbConn)
	processedRepo := postgres.NewProcessedEventRepository(dbConn)
	challengeRepo := postgres.NewChallengeRepository(dbConn)
	participationRepo := postgres.NewParticipationRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	applyEvent := command.NewApplyEventHandler(
		recordRepo, grantRepo, processedRepo, challengeRepo, participationRepo,
		evaluator, manager, ledger, idempotencyCache, dbConn, bus, appLog,
		command.ApplyEventConfig{Curve: curve, BaseHabitXP: cfg.Engine.BaseHabitXP},
	)
	joinChallenge := command.NewJoinChallengeHandler(
		challengeRepo, participationRepo, manager, dbConn, bus, appLog)
	createChallenge := command.NewCreateChallengeHandler(challengeRepo, appLog)
	editChallenge := command.NewEditChallengeHandler(
		challengeRepo, participationRepo, dbConn, appLog)

	getProgression := query.NewGetProgressionHandler(recordRepo, evaluator, ledger, curve)

	var queryStandingsCache query.StandingsCache
	if standingsCache != nil && cfg.Features.IsEnabled(config.FeatureChallengeStandings, "") {
		queryStandingsCache = standingsCache
	}
	getStandings := query.NewGetStandingsHandler(
		challengeRepo, participationRepo, queryStandingsCache, appLog)
	listChallenges := query.NewListChallengesHandler(challengeRepo, participationRepo)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. EVENT SUBSCRIPTIONS
	// Cache invalidation reacts to outbound events, so stale snapshots live at
	// most until the next write (or the TTL if an invalidation is missed).
	// ─────────────────────────────────────────────────────────────────────────
	if progressionCache != nil {
		onLevelUp := eventhandler.NewOnLevelUpHandler(progressionCache, slogger)
		if err := bus.Subscribe(shared.EventLevelUp, onLevelUp.Handle); err != nil {
			return fmt.Errorf("failed to subscribe level-up handler: %w", err)
		}
	}
	if progressionCache != nil && standingsCache != nil {
		onCompleted := eventhandler.NewOnChallengeCompletedHandler(standingsCache, progressionCache, slogger)
		if err := bus.Subscribe(shared.EventChallengeCompleted, onCompleted.Handle); err != nil {
			return fmt.Errorf("failed to subscribe challenge-completed handler: %w", err)
		}
		onFinalized := eventhandler.NewOnRanksFinalizedHandler(standingsCache, progressionCache, slogger)
		if err := bus.Subscribe(shared.EventRanksFinalized, onFinalized.Handle); err != nil {
			return fmt.Errorf("failed to subscribe ranks-finalized handler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpserver.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		ShutdownTimeout: cfg.App.ShutdownTimeout,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		EnableCORS:      cfg.Server.EnableCORS,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimitPerMin: cfg.Server.RateLimitPerMin,
		AdminTokenHash:  cfg.Server.AdminTokenHash,
	}
	if !cfg.Features.IsEnabled(config.FeatureChallengeAdminEdits, "") {
		serverCfg.AdminTokenHash = ""
	}

	checks := map[string]httpserver.HealthChecker{"postgres": dbConn}
	if redisCache != nil {
		checks["redis"] = redisCache
	}

	var readCache httpserver.ProgressionReadCache
	if progressionCache != nil && cfg.Features.IsEnabled(config.FeatureProgressionCache, "") {
		readCache = &progressionReadCacheAdapter{inner: progressionCache}
	}

	srv := httpserver.NewServer(serverCfg, httpserver.Dependencies{
		ApplyEvent:       applyEvent,
		JoinChallenge:    joinChallenge,
		CreateChallenge:  createChallenge,
		EditChallenge:    editChallenge,
		GetProgression:   getProgression,
		GetStandings:     getStandings,
		ListChallenges:   listChallenges,
		ProgressionCache: readCache,
		Checks:           checks,
		Logger:           appLog,
	})

	errCh := srv.StartAsync()
	appLog.Info("server started", logger.String("addr", serverCfg.Addr()))

	// ─────────────────────────────────────────────────────────────────────────
	// 11. WAIT FOR SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		appLog.Info("shutdown signal received")
	}

	shutdownCtx := context.Background()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("server shutdown failed", logger.Err(err))
		return err
	}
	appLog.Info("server stopped")
	return nil
}

// setupLoggers builds the application logger and the slog logger used by the
// infrastructure layer.
func setupLoggers(cfg *config.Config) (*logger.Logger, *slog.Logger) {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.AddCaller = cfg.Observability.LogCaller
	appLog := logger.New(opts)

	level := slog.LevelInfo
	switch logger.ParseLevel(cfg.Observability.LogLevel) {
	case logger.LevelDebug:
		level = slog.LevelDebug
	case logger.LevelWarn:
		level = slog.LevelWarn
	case logger.LevelError:
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return appLog, slog.New(handler)
}

// redisConfigFrom maps the application config onto the cache package config.
func redisConfigFrom(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}

// progressionReadCacheAdapter narrows the redis progression cache to the
// interface the HTTP layer consumes.
type progressionReadCacheAdapter struct {
	inner *redis.ProgressionCache
}

func (a *progressionReadCacheAdapter) GetProgression(ctx context.Context, userID shared.UserID) (*query.ProgressionDTO, bool) {
	return a.inner.GetProgression(ctx, userID)
}

func (a *progressionReadCacheAdapter) SetProgression(ctx context.Context, userID shared.UserID, dto *query.ProgressionDTO) {
	_ = a.inner.SetProgression(ctx, userID, dto)
}
