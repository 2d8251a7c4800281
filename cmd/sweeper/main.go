package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/artfabrik/credits-api/internal/config"
	"github.com/artfabrik/credits-api/internal/domain/distribution"
	"github.com/artfabrik/credits-api/internal/domain/ledger"
	"github.com/artfabrik/credits-api/internal/domain/subscription"
	"github.com/artfabrik/credits-api/internal/domain/sweep"
	"github.com/artfabrik/credits-api/internal/pkg/database"
	"github.com/artfabrik/credits-api/internal/pkg/logger"
)

// The sweeper is a one-shot maintenance binary, meant to run from cron or a
// scheduled job. Every pass it performs is idempotent, so a crashed or
// double-scheduled run never double-grants.
func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().Str("env", cfg.Env).Msg("Starting sweeper")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redisClient)

	store := ledger.NewStore(db)
	balanceCache := ledger.NewBalanceCache(redisClient, cfg.BalanceCacheTTL)
	subscriptionRepo := subscription.NewRepository(db)
	subscriptionService := subscription.NewService(db, subscriptionRepo, store, balanceCache)
	distributionService := distribution.NewService(subscriptionRepo, store, balanceCache)
	runner := sweep.NewRunner(subscriptionService, distributionService, store, cfg.SweepLedgerCompaction)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	report, err := runner.RunOnce(ctx, time.Now().UTC())
	if err != nil {
		log.Fatal().Err(err).Msg("Sweep failed")
	}

	log.Info().
		Int("activated", report.Activated).
		Int("expired", report.Expired).
		Int("granted", report.Granted).
		Msg("Sweeper finished")
}
