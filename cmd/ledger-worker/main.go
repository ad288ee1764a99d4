package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/raulk/clock"
	"github.com/rs/zerolog/log"

	"github.com/ecolocal/eco-api/internal/config"
	"github.com/ecolocal/eco-api/internal/domain/ledger"
	"github.com/ecolocal/eco-api/internal/domain/offer"
	"github.com/ecolocal/eco-api/internal/domain/redemption"
	"github.com/ecolocal/eco-api/internal/domain/rollup"
	"github.com/ecolocal/eco-api/internal/pkg/database"
	"github.com/ecolocal/eco-api/internal/pkg/logger"
	"github.com/ecolocal/eco-api/internal/pkg/storage"
)

// ledger-worker runs the rollup jobs outside the API process: voucher
// expiry, business counter reconciliation and the stats snapshot. Use
// -once from cron.
func main() {
	once := flag.Bool("once", false, "run every job once and exit")
	flag.Parse()

	cfg := config.Load()
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
	})

	log.Info().Bool("once", *once).Msg("Starting ledger-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: 8, MaxIdleConns: 4})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	// Optional: Redis pub/sub wake-up (the ticker still runs)
	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots, err := storage.Open(ctx, storage.Config{
		S3Endpoint:   cfg.S3Endpoint,
		S3Region:     cfg.S3Region,
		S3AccessKey:  cfg.S3AccessKey,
		S3SecretKey:  cfg.S3SecretKey,
		S3Bucket:     cfg.S3Bucket,
		LocalDir:     cfg.SnapshotLocalDir,
		LocalBaseURL: "file://" + cfg.SnapshotLocalDir,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open snapshot storage")
	}

	clk := clock.New()
	ledgerRepo := ledger.NewRepository(db, cfg.StoreTimeout)
	offerRepo := offer.NewRepository(db, cfg.StoreTimeout)
	redemptionRepo := redemption.NewRepository(db, ledgerRepo, offerRepo, cfg.StoreTimeout)

	// the worker never redeems; the service is only used for voucher expiry
	vouchers := redemption.NewService(redemptionRepo, redemptionRepo, ledger.NewBalanceEngine(ledgerRepo, nil), nil, clk, redemption.Config{
		VoucherTTL: cfg.VoucherTTL,
	})
	aggregator := rollup.NewAggregator(ledgerRepo, offerRepo, rollup.NewCompletionRepository(db, cfg.StoreTimeout), clk)
	worker := rollup.NewWorker(aggregator, vouchers, snapshots, rdb, clk, cfg.RollupInterval)

	if *once {
		if err := worker.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("ledger-worker run failed")
			os.Exit(1)
		}
		log.Info().Msg("ledger-worker run complete")
		return
	}

	worker.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	log.Info().Msg("Shutdown signal received")

	worker.Stop()
	log.Info().Msg("ledger-worker stopped")
}
