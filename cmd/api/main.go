package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"artshield/internal/adapter/repo"
	"artshield/internal/http/handlers"
	httpapi "artshield/internal/http/httpapi"
	"artshield/internal/infra"
	"artshield/internal/infra/geoip"
	"artshield/internal/middleware"
	"artshield/internal/protect"
	"artshield/internal/providers/compute"
	"artshield/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	geoResolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	var lookup middleware.CountryLookup
	if geoResolver != nil {
		lookup = geoResolver.CountryCode
	}

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init storage")
	}

	artworks := repo.NewArtworkRepository(runner)
	steps := repo.NewStepRepository(runner)
	ledger := repo.NewCreditLedger(runner)

	computeClient := compute.NewClient(compute.Options{Logger: &logger})
	registry := protect.NewRegistry(cfg)
	service := protect.NewService(cfg, logger, registry, computeClient, artworks, steps, ledger, store)

	app := handlers.NewApp(cfg, logger, service, artworks, steps, ledger)
	app.Geo = lookup

	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
