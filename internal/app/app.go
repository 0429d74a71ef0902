package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"timecapsule/internal/common/database"
	"timecapsule/internal/common/mqtt"
	redisclient "timecapsule/internal/common/redis"
	"timecapsule/internal/config"
	httpapi "timecapsule/internal/http"
	"timecapsule/internal/repository"
	"timecapsule/internal/service"
	"timecapsule/internal/store"

	"go.uber.org/zap"
)

// App the wired persistence and sync layer; lifecycle owned by the caller
type App struct {
	Config *config.Config
	Logger *zap.Logger

	KV          store.KV
	Remote      repository.ResponseRepository
	Local       *repository.LocalResponseStore
	Demo        *service.DemoAuthService
	Identity    *service.IdentityResolver
	Sessions    *service.SessionService
	Coordinator *service.SyncCoordinator
	Export      *service.ExportService

	closers []func() error
}

// New builds every component from cfg. The local store must open; a remote
// backend that cannot be reached is replaced by the disabled repository so
// the layer keeps working offline.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	kv, err := a.openLocal()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.KV = kv
	a.Remote = a.openRemote()
	notifier := a.openNotifier()

	a.Local = repository.NewLocalResponseStore(a.KV, logger)
	a.Demo = service.NewDemoAuthService(a.KV, cfg.Auth.DemoBuild, logger)
	a.Identity = service.NewIdentityResolver(a.KV, a.Demo, a.Remote, cfg.Remote.Timeout, logger)
	a.Sessions = service.NewSessionService(a.KV, a.Identity, cfg.Auth.JWTSecret, logger)
	if sink, ok := a.Remote.(service.AccessTokenSink); ok {
		a.Sessions.UseAccessTokenSink(sink)
		if err := a.Sessions.RestoreAccessToken(context.Background()); err != nil {
			logger.Warn("Failed to restore session token, using anon key", zap.Error(err))
		}
	}
	a.Coordinator = service.NewSyncCoordinator(a.Local, a.Remote, a.Identity, notifier, cfg.Remote.Timeout, logger)
	a.Export = service.NewExportService(a.Coordinator, logger)

	logger.Info("Persistence layer ready",
		zap.String("local_backend", cfg.Local.Backend),
		zap.String("remote_backend", cfg.Remote.Backend),
		zap.Duration("remote_timeout", cfg.Remote.Timeout),
		zap.Bool("demo_build", cfg.Auth.DemoBuild),
	)
	return a, nil
}

func (a *App) openLocal() (store.KV, error) {
	cfg := a.Config.Local
	switch cfg.Backend {
	case config.LocalBackendSQLite:
		db, err := database.NewSQLiteDB(&cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("open local sqlite store: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		kv, err := store.NewSQLiteKV(db)
		if err != nil {
			return nil, fmt.Errorf("init local sqlite store: %w", err)
		}
		return kv, nil
	case config.LocalBackendRedis:
		client := redisclient.NewRedisClient(&cfg.Redis)
		a.closers = append(a.closers, client.Close)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisclient.Ping(ctx, client); err != nil {
			return nil, fmt.Errorf("connect local redis store: %w", err)
		}
		return store.NewRedisKV(client), nil
	case config.LocalBackendMemory:
		return store.NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown local backend %q", cfg.Backend)
	}
}

func (a *App) openRemote() repository.ResponseRepository {
	cfg := a.Config.Remote
	switch cfg.Backend {
	case config.RemoteBackendPostgres:
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			a.Logger.Warn("Remote database unavailable, continuing local-only", zap.Error(err))
			return repository.DisabledResponseRepository{}
		}
		a.closers = append(a.closers, db.Close)
		return repository.NewPostgresResponseRepository(db, a.Logger)
	case config.RemoteBackendREST:
		return repository.NewRestResponseRepository(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.Supabase.Table, a.Logger)
	case config.RemoteBackendMemory:
		return repository.NewMemoryResponseRepository()
	default:
		return repository.DisabledResponseRepository{}
	}
}

func (a *App) openNotifier() service.ChangeNotifier {
	cfg := a.Config.MQTT
	if !cfg.Enabled {
		return service.NopNotifier{}
	}
	client, err := mqtt.NewClient(&cfg.MQTTConfig, a.Logger)
	if err != nil {
		a.Logger.Warn("MQTT unavailable, page events disabled", zap.Error(err))
		return service.NopNotifier{}
	}
	a.closers = append(a.closers, func() error {
		client.Disconnect()
		return nil
	})
	return service.NewMQTTNotifier(client, cfg.TopicPrefix, a.Logger)
}

// Handler HTTP API over the app
func (a *App) Handler() http.Handler {
	router := httpapi.NewRouter(a.Logger)
	router.RegisterHealthRoute()
	router.RegisterJournalRoutes(httpapi.NewJournalHandler(a.Coordinator, a.Export, a.Logger))
	router.RegisterAuthRoutes(httpapi.NewAuthHandler(a.Identity, a.Sessions, a.Demo, a.Logger))
	return router
}

// Close releases connections in reverse order of opening
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
