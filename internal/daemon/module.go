package daemon

import (
	"context"
	"time"

	"github.com/coachlink/coachlink/internal/api"
	"github.com/coachlink/coachlink/internal/auth"
	"github.com/coachlink/coachlink/internal/bus"
	"github.com/coachlink/coachlink/internal/config"
	"github.com/coachlink/coachlink/internal/lock"
	"github.com/coachlink/coachlink/internal/logging"
	"github.com/coachlink/coachlink/internal/notify"
	"github.com/coachlink/coachlink/internal/profile"
	"github.com/coachlink/coachlink/internal/realtime"
	"github.com/coachlink/coachlink/internal/status"
	"github.com/coachlink/coachlink/internal/store"
	intsync "github.com/coachlink/coachlink/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideConfig,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCache,
			provideSession,
			provideAPIClient,
			provideConn,
			provideReconciler,
			provideSyncEngine,
			provideBridge,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		logger.Warn("config load failed, using defaults", zap.Error(err))
		return config.Default()
	}
	return cfg
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CacheDBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCache(db *store.DB, logger *zap.Logger) *store.Cache {
	return store.NewCache(db, logger)
}

func provideSession(p Params, b *bus.Bus, logger *zap.Logger) *auth.Manager {
	return auth.NewManager(profile.TokensPath(p.Profile), b, logger)
}

func provideAPIClient(cfg *config.Config, session *auth.Manager, logger *zap.Logger) *api.Client {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	return api.New(cfg.APIBaseURL, timeout, session, logger)
}

func provideConn(cfg *config.Config, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *realtime.Conn {
	return realtime.NewConn(cfg.RealtimeURL, b, machine, logger)
}

func provideReconciler(cache *store.Cache) *intsync.Reconciler {
	return intsync.NewReconciler(cache)
}

func provideSyncEngine(rec *intsync.Reconciler, client *api.Client, b *bus.Bus, session *auth.Manager, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(rec, client, b, session.UserID, logger)
}

func provideBridge(b *bus.Bus, session *auth.Manager, logger *zap.Logger) *notify.Bridge {
	return notify.NewBridge(notify.NewDesktopNotifier(logger), b, session.UserID, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, session *auth.Manager, client *api.Client, conn *realtime.Conn, engine *intsync.Engine, bridge *notify.Bridge, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := session.Load(); err != nil {
				return err
			}

			// Paint the cached snapshot and subscribe to realtime events
			// before the socket comes up, so nothing is missed.
			engine.Start(context.Background())
			bridge.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control API server error", zap.Error(err))
				}
			}()

			if session.Authenticated() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := client.EnsureFresh(ctx); err != nil {
					logger.Warn("token refresh failed, realtime deferred until login", zap.Error(err))
					return nil
				}
				conn.Establish(context.Background(), session.AccessToken())
			} else {
				logger.Info("no stored session, login required")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			conn.Teardown()
			bridge.Stop()
			engine.Stop()
			srv.Stop(ctx)
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
