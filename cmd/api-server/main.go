package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/apiserver"
	"github.com/dossierflow/dossierflow/pkg/auth"
	"github.com/dossierflow/dossierflow/pkg/config"
	"github.com/dossierflow/dossierflow/pkg/directory"
	"github.com/dossierflow/dossierflow/pkg/eventbus"
	"github.com/dossierflow/dossierflow/pkg/identity"
	"github.com/dossierflow/dossierflow/pkg/listing"
	"github.com/dossierflow/dossierflow/pkg/logging"
	"github.com/dossierflow/dossierflow/pkg/metrics"
	"github.com/dossierflow/dossierflow/pkg/model"
	"github.com/dossierflow/dossierflow/pkg/notify"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
	redisclient "github.com/dossierflow/dossierflow/pkg/store/redis"
	"github.com/dossierflow/dossierflow/pkg/workflow"
)

func main() {
	fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			newStore,
			newBus,
			newTokenManager,
			newResolver,
			newDispatcher,
			newEngine,
			workflow.NewInstructionCatalog,
			listing.NewService,
			directory.New,
			newIdentity,
			newServer,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
		fx.Invoke(registerCollector, startRetention, startServer),
	).Run()
}

func newLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = logger.Sync()
			return nil
		},
	})
	return logger, nil
}

func newStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*postgres.Store, error) {
	store, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		logger.Info("running database migrations")
		if err := store.AutoMigrate(); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

// newBus returns nil when redis is disabled; realtime delivery is then
// skipped and the stream endpoint answers 503.
func newBus(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*eventbus.Bus, error) {
	if !cfg.Redis.Enabled {
		logger.Info("redis disabled, realtime notifications off")
		return nil, nil
	}
	client, err := redisclient.NewClient(context.Background(), &cfg.Redis)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return eventbus.NewBus(client.Client()), nil
}

func publisher(bus *eventbus.Bus) notify.Publisher {
	if bus == nil {
		return nil
	}
	return bus
}

func newTokenManager(cfg *config.Config) *auth.SessionTokenManager {
	return auth.NewSessionTokenManager([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
}

func newResolver(cfg *config.Config, tokens *auth.SessionTokenManager, store *postgres.Store) *access.Resolver {
	policy := access.DefaultScopePolicy()
	if len(cfg.Workflow.GlobalScopeProfiles) > 0 {
		policy = access.NewScopePolicy(
			cfg.Workflow.GlobalScopeProfiles,
			[]string{model.ProfileChef},
			[]string{model.ProfileChefService},
		)
	}
	return access.NewResolver(tokens, postgres.NewUserRepository(store.DB()), policy)
}

func newDispatcher(cfg *config.Config, store *postgres.Store, bus *eventbus.Bus, logger *zap.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(store, logger,
		notify.WithBatchSize(cfg.Notifications.BatchSize),
		notify.WithPublisher(publisher(bus)),
	)
}

func newEngine(cfg *config.Config, store *postgres.Store, dispatcher *notify.Dispatcher, bus *eventbus.Bus, logger *zap.Logger) *workflow.Engine {
	return workflow.NewEngine(store, dispatcher, logger,
		workflow.WithManagerProfiles(cfg.Workflow.ManagerProfiles),
		workflow.WithPublisher(publisher(bus)),
	)
}

func newIdentity(cfg *config.Config, store *postgres.Store, tokens *auth.SessionTokenManager, logger *zap.Logger) *identity.Service {
	return identity.NewService(store, tokens, cfg.Auth.BcryptCost, logger)
}

type serverParams struct {
	fx.In

	Config       *config.Config
	Logger       *zap.Logger
	Store        *postgres.Store
	Resolver     *access.Resolver
	Engine       *workflow.Engine
	Instructions *workflow.InstructionCatalog
	Listing      *listing.Service
	Directory    *directory.Directory
	Identity     *identity.Service
	Notifier     *notify.Dispatcher
	Bus          *eventbus.Bus
}

func newServer(p serverParams) *apiserver.Server {
	return apiserver.NewServer(p.Config, apiserver.Services{
		Store:        p.Store,
		Resolver:     p.Resolver,
		Engine:       p.Engine,
		Instructions: p.Instructions,
		Listing:      p.Listing,
		Directory:    p.Directory,
		Identity:     p.Identity,
		Notifier:     p.Notifier,
		Bus:          p.Bus,
	}, p.Logger)
}

func registerCollector(store *postgres.Store, logger *zap.Logger) {
	prometheus.MustRegister(metrics.NewDossierCollector(metrics.NewStoreStatusSource(store), logger))
}

func startRetention(lc fx.Lifecycle, cfg *config.Config, dispatcher *notify.Dispatcher, logger *zap.Logger) {
	job := notify.NewRetentionJob(dispatcher, logger, cfg.Notifications.RetentionSchedule, cfg.Notifications.RetentionAge)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return job.Start()
		},
		OnStop: func(ctx context.Context) error {
			job.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, cfg *config.Config, server *apiserver.Server, logger *zap.Logger, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.Start(); err != nil {
					logger.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			timeout := cfg.Server.ShutdownTimeout
			if timeout <= 0 {
				timeout = 30 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			logger.Info("shutting down http server")
			return server.Shutdown(shutdownCtx)
		},
	})
}
