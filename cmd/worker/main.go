// Package main is the entry point for the progression engine worker.
//
// The worker owns the background sweeps: rank finalization for ended
// community challenges, expiry of stale recovery challenges, and purging of
// old processed-event rows. It shares the application layer with the API
// server but exposes no network surface of its own.
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
	"github.com/habitforge/progression-hub/internal/domain/progression"
	"github.com/habitforge/progression-hub/internal/domain/shared"
	"github.com/habitforge/progression-hub/internal/infrastructure/messaging"
	"github.com/habitforge/progression-hub/internal/infrastructure/persistence/postgres"
	"github.com/habitforge/progression-hub/internal/infrastructure/persistence/redis"
	"github.com/habitforge/progression-hub/internal/infrastructure/scheduler"
	"github.com/habitforge/progression-hub/internal/infrastructure/scheduler/jobs"
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
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Scheduler.Enabled {
		return fmt.Errorf("scheduler is disabled, nothing to run")
	}

	appLog, slogger := setupLoggers(cfg)
	appLog.Info("starting progression hub worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. DATABASE
	// ─────────────────────────────────────────────────────────────────────────
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbConn.Close()

	if cfg.Database.MigrateOnStart {
		migrator := postgres.NewMigrator(dbConn)
		if err := migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. EVENT BUS
	// The finalizer publishes rank events; routing them through redis lets the
	// API servers invalidate their caches.
	// ─────────────────────────────────────────────────────────────────────────
	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = slogger

	var bus shared.EventBus
	if !cfg.Redis.Disabled {
		redisCache, err := redis.NewCache(redisConfigFrom(cfg))
		if err != nil {
			appLog.Warn("redis unavailable, events stay local", logger.Err(err))
		} else {
			defer redisCache.Close()
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
		}
	}
	if bus == nil {
		memBus := messaging.NewInMemoryEventBus(busConfig)
		defer memBus.Close()
		bus = memBus
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	curve := progression.CurveParams{
		Coefficient: cfg.Engine.CurveCoefficient,
		Exponent:    cfg.Engine.CurveExponent,
	}

	recordRepo := postgres.NewProgressionRepository(dbConn)
	processedRepo := postgres.NewProcessedEventRepository(dbConn)
	challengeRepo := postgres.NewChallengeRepository(dbConn)
	participationRepo := postgres.NewParticipationRepository(dbConn)

	finalizer := command.NewFinalizeChallengeHandler(
		challengeRepo, participationRepo, recordRepo, dbConn, bus, appLog, curve)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(slogger)

	if cfg.Features.IsEnabled(config.FeatureChallengeRankBonus, "") {
		finalizeJob := jobs.NewFinalizeChallengesJob(challengeRepo, finalizer, slogger,
			jobs.FinalizeChallengesConfig{
				BatchSize: cfg.Scheduler.BatchSize,
				Timeout:   cfg.Scheduler.JobTimeout,
			})
		if err := sched.Register(finalizeJob, scheduler.Every(cfg.Scheduler.FinalizeInterval)); err != nil {
			return fmt.Errorf("failed to register finalize job: %w", err)
		}
	}

	if cfg.Features.IsEnabled(config.FeatureChallengeRecovery, "") {
		recoveryJob := jobs.NewExpireRecoveriesJob(
			challengeRepo, participationRepo, slogger, cfg.Scheduler.BatchSize)
		if err := sched.Register(recoveryJob, scheduler.Every(cfg.Scheduler.RecoveryInterval)); err != nil {
			return fmt.Errorf("failed to register recovery job: %w", err)
		}
	}

	purgeJob := jobs.NewPurgeEventsJob(processedRepo, cfg.Scheduler.EventRetention, slogger)
	if err := sched.Register(purgeJob, scheduler.DailyAt(cfg.Scheduler.PurgeHour, cfg.Scheduler.PurgeMinute)); err != nil {
		return fmt.Errorf("failed to register purge job: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	appLog.Info("worker started")

	// ─────────────────────────────────────────────────────────────────────────
	// 6. WAIT FOR SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	appLog.Info("shutdown signal received")

	if err := sched.Stop(); err != nil {
		appLog.Error("scheduler stop failed", logger.Err(err))
	}
	appLog.Info("worker stopped")
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
