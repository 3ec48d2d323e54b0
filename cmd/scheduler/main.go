package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"artshield/internal/adapter/repo"
	"artshield/internal/infra"
	"artshield/internal/protect"
	"artshield/internal/providers/compute"
	"artshield/internal/storage"
)

func main() {
	once := flag.Bool("once", false, "run a single tick and exit")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: storage init failed")
	}

	service := protect.NewService(
		cfg,
		logger,
		protect.NewRegistry(cfg),
		compute.NewClient(compute.Options{Logger: &logger}),
		repo.NewArtworkRepository(runner),
		repo.NewStepRepository(runner),
		repo.NewCreditLedger(runner),
		store,
	)

	if *once {
		res := service.RunTick(ctx)
		logger.Info().
			Int("synced", res.Synced).
			Int("advanced", res.Advanced).
			Int("dispatched", res.Dispatched).
			Msg("scheduler: tick complete")
		return
	}

	logger.Info().Dur("interval", cfg.SchedulerInterval).Msg("scheduler: started")
	ticker := time.NewTicker(cfg.SchedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: stopped")
			return
		case <-ticker.C:
			res := service.RunTick(ctx)
			if res.Synced+res.Advanced+res.Dispatched > 0 {
				logger.Info().
					Int("synced", res.Synced).
					Int("advanced", res.Advanced).
					Int("dispatched", res.Dispatched).
					Msg("scheduler: tick complete")
			}
		}
	}
}
