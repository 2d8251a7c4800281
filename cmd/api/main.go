package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/artfabrik/credits-api/internal/config"
	"github.com/artfabrik/credits-api/internal/domain/billing"
	"github.com/artfabrik/credits-api/internal/domain/distribution"
	"github.com/artfabrik/credits-api/internal/domain/ledger"
	"github.com/artfabrik/credits-api/internal/domain/order"
	"github.com/artfabrik/credits-api/internal/domain/reconcile"
	"github.com/artfabrik/credits-api/internal/domain/subscription"
	"github.com/artfabrik/credits-api/internal/domain/sweep"
	"github.com/artfabrik/credits-api/internal/middleware"
	"github.com/artfabrik/credits-api/internal/pkg/database"
	"github.com/artfabrik/credits-api/internal/pkg/logger"
	"github.com/artfabrik/credits-api/internal/pkg/response"
	"github.com/artfabrik/credits-api/internal/pkg/robokassa"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting Credits API")

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

	hashAlgo, err := robokassa.NormalizeHashAlgorithm(cfg.RoboKassaHashAlgo)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid RoboKassa hash algorithm")
	}
	gateway := robokassa.NewClient(robokassa.Config{
		MerchantLogin: cfg.RoboKassaMerchantLogin,
		Password1:     cfg.RoboKassaPassword1,
		Password2:     cfg.RoboKassaPassword2,
		TestMode:      cfg.RoboKassaTestMode,
		HashAlgo:      hashAlgo,
	})

	// ---------- Ledger core ----------
	store := ledger.NewStore(db)
	balanceCache := ledger.NewBalanceCache(redisClient, cfg.BalanceCacheTTL)
	ledgerService := ledger.NewService(store, balanceCache)

	// ---------- Domain services ----------
	subscriptionRepo := subscription.NewRepository(db)
	subscriptionService := subscription.NewService(db, subscriptionRepo, store, balanceCache)
	distributionService := distribution.NewService(subscriptionRepo, store, balanceCache)
	sweepRunner := sweep.NewRunner(subscriptionService, distributionService, store, cfg.SweepLedgerCompaction)

	orderRepo := order.NewRepository(db)
	billingService := billing.NewService(db, store, balanceCache, orderRepo, subscriptionService, gateway)
	reconcileService := reconcile.NewService(db, store, balanceCache)

	// ---------- Handlers ----------
	ledgerHandler := ledger.NewHandler(ledgerService)
	subscriptionHandler := subscription.NewHandler(subscriptionService)
	billingHandler := billing.NewHandler(billingService, cfg.SubscriptionWebhookSecret)
	reconcileHandler := reconcile.NewHandler(reconcileService)
	sweepHandler := sweep.NewHandler(sweepRunner)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Mount("/", ledgerHandler.Routes())
			r.Mount("/subscription", subscriptionHandler.Routes())
		})

		r.Mount("/", billingHandler.Routes())
		r.Mount("/webhooks", billingHandler.WebhookRoutes())

		r.Route("/admin", func(r chi.Router) {
			r.Mount("/reconcile", reconcileHandler.Routes())
			r.Mount("/sweep", sweepHandler.Routes())
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}
