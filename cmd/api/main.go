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
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raulk/clock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ecolocal/eco-api/internal/config"
	"github.com/ecolocal/eco-api/internal/domain/claim"
	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/domain/offer"
	"github.com/ecolocal/eco-api/internal/domain/redemption"
	"github.com/ecolocal/eco-api/internal/domain/rollup"
	"github.com/ecolocal/eco-api/internal/middleware"
	"github.com/ecolocal/eco-api/internal/pkg/database"
	"github.com/ecolocal/eco-api/internal/pkg/jwt"
	"github.com/ecolocal/eco-api/internal/pkg/logger"
	pkgresponse "github.com/ecolocal/eco-api/internal/pkg/response"
	"github.com/ecolocal/eco-api/internal/pkg/storage"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
	})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting ECO API")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	a, err := newApp(cfg, db, rdb, clock.New())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire application")
	}

	if cfg.RollupWorkerEnabled {
		snapshots, err := storage.Open(context.Background(), snapshotConfig(cfg))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open snapshot storage")
		}
		worker := rollup.NewWorker(a.aggregator, a.redemptions, snapshots, rdb, a.clock, cfg.RollupInterval)
		a.wake.set(worker)
		worker.Start()
		defer worker.Stop()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.router(cfg),
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

type app struct {
	clock       clock.Clock
	jwt         *jwt.Service
	ledger      *ledger.Service
	redemptions *redemption.Service
	aggregator  *rollup.Aggregator
	wake        *wakeRelay

	ledgerHandler     *ledger.Handler
	offerHandler      *offer.Handler
	claimHandler      *claim.Handler
	redemptionHandler *redemption.Handler
	statsHandler      *rollup.Handler
}

// newApp wires repositories, services and handlers. rdb may be nil.
func newApp(cfg *config.Config, db *sqlx.DB, rdb *redis.Client, clk clock.Clock) (*app, error) {
	// ---------- Repositories ----------
	ledgerRepo := ledger.NewRepository(db, cfg.StoreTimeout)
	offerRepo := offer.NewRepository(db, cfg.StoreTimeout)
	redemptionRepo := redemption.NewRepository(db, ledgerRepo, offerRepo, cfg.StoreTimeout)
	completionRepo := rollup.NewCompletionRepository(db, cfg.StoreTimeout)

	// ---------- Balance cache ----------
	var cache ledger.Cache
	if rdb != nil {
		cache = ledger.NewRedisCache(rdb, cfg.BalanceCacheTTL)
	} else {
		lru, err := ledger.NewLRUCache(cfg.BalanceCacheSize, cfg.BalanceCacheTTL)
		if err != nil {
			return nil, err
		}
		cache = lru
	}
	balances := ledger.NewBalanceEngine(ledgerRepo, cache)

	// ---------- Services ----------
	wake := &wakeRelay{}
	if rdb != nil {
		wake.set(rollup.NewRedisNotifier(rdb))
	}

	ledgerService := ledger.NewService(ledgerRepo, balances)
	claimService := claim.NewService(offerRepo, ledgerService, clk, claim.Config{
		DefaultRadiusM:   cfg.DefaultGeofenceRadiusM,
		SeasonMultiplier: cfg.SeasonMultiplier,
	})
	redemptionService := redemption.NewService(redemptionRepo, redemptionRepo, balances, wake, clk, redemption.Config{
		MaxAttempts:  cfg.RedeemMaxAttempts,
		BaseDelay:    cfg.RedeemRetryBaseDelay,
		StoreTimeout: cfg.StoreTimeout,
		VoucherTTL:   cfg.VoucherTTL,
	})
	aggregator := rollup.NewAggregator(ledgerRepo, offerRepo, completionRepo, clk)

	return &app{
		clock:       clk,
		jwt:         jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL),
		ledger:      ledgerService,
		redemptions: redemptionService,
		aggregator:  aggregator,
		wake:        wake,

		ledgerHandler:     ledger.NewHandler(ledgerService),
		offerHandler:      offer.NewHandler(offerRepo, clk),
		claimHandler:      claim.NewHandler(claimService),
		redemptionHandler: redemption.NewHandler(redemptionService),
		statsHandler:      rollup.NewHandler(aggregator),
	}, nil
}

func (a *app) router(cfg *config.Config) http.Handler {
	authMiddleware := middleware.Auth(a.jwt)
	claimLimiter := middleware.NewRateLimiter(cfg.ClaimRatePerMinute, cfg.ClaimRateBurst)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/claims", a.claimHandler.Routes(authMiddleware, claimLimiter.Middleware))
		r.Mount("/ledger", a.ledgerHandler.Routes(authMiddleware))
		r.Mount("/stats", a.statsHandler.Routes())
		r.Mount("/vouchers", a.redemptionHandler.VoucherRoutes(authMiddleware))

		r.Get("/offers/suggest-price", a.offerHandler.SuggestPrice)
		r.Get("/businesses/{business_ref}/offers", a.offerHandler.ListAvailable)

		r.Route("/offers/{offer_id}", func(r chi.Router) {
			r.Use(authMiddleware)
			r.With(middleware.RequireIdempotencyKey).Post("/redeem", a.redemptionHandler.Redeem)
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Mount("/ledger", a.ledgerHandler.AdminRoutes(authMiddleware))
	})

	return r
}

func snapshotConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		S3Endpoint:   cfg.S3Endpoint,
		S3Region:     cfg.S3Region,
		S3AccessKey:  cfg.S3AccessKey,
		S3SecretKey:  cfg.S3SecretKey,
		S3Bucket:     cfg.S3Bucket,
		LocalDir:     cfg.SnapshotLocalDir,
		LocalBaseURL: "file://" + cfg.SnapshotLocalDir,
	}
}
