package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/config"
	"github.com/dossierflow/dossierflow/pkg/logging"
	"github.com/dossierflow/dossierflow/pkg/seed"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	store, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer store.Close()

	if err := store.AutoMigrate(); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := seed.NewSeeder(store, cfg.Auth.BcryptCost, logger).Run(ctx, cfg.Seed); err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
	logger.Info("seed completed")
}
