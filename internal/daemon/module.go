package daemon

import (
	"context"

	"github.com/creativecareer/ccai/internal/api"
	"github.com/creativecareer/ccai/internal/backend"
	"github.com/creativecareer/ccai/internal/bus"
	"github.com/creativecareer/ccai/internal/config"
	"github.com/creativecareer/ccai/internal/conn"
	"github.com/creativecareer/ccai/internal/lock"
	"github.com/creativecareer/ccai/internal/logging"
	"github.com/creativecareer/ccai/internal/messenger"
	"github.com/creativecareer/ccai/internal/outbox"
	"github.com/creativecareer/ccai/internal/session"
	"github.com/creativecareer/ccai/internal/status"
	"github.com/creativecareer/ccai/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // optional override; empty = ~/.ccai/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideBackend,
			provideTransport,
			provideConnManager,
			provideJournal,
			provideMessenger,
			provideRetrier,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(session.EnvPath(p.SessionName)); err != nil {
		return nil, err
	}
	if err := cfg.ResolveUserID(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so that two daemons never migrate the
// same database.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBackend(cfg *config.Config, logger *zap.Logger) *backend.Client {
	return backend.NewClient(cfg.APIURL, cfg.Token, cfg.RequestTimeout, logger.Named("backend"))
}

func provideTransport(cfg *config.Config) conn.Transport {
	return &conn.WebSocketTransport{URL: cfg.SocketURL, Token: cfg.Token}
}

func provideConnManager(t conn.Transport, machine *status.Machine, cfg *config.Config, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(t, machine, logger.Named("conn"), conn.Options{PingInterval: cfg.PingInterval})
}

func provideJournal(db *store.DB) *outbox.Journal {
	return outbox.NewJournal(db)
}

func provideMessenger(cfg *config.Config, mgr *conn.Manager, client *backend.Client, b *bus.Bus, journal *outbox.Journal, logger *zap.Logger) *messenger.Messenger {
	return messenger.New(messengerConfig(cfg), mgr, client, b, journal, logger.Named("messenger"))
}

func messengerConfig(cfg *config.Config) messenger.Config {
	return messenger.Config{
		UserID:               cfg.UserID,
		PageSize:             cfg.PageSize,
		TypingDebounce:       cfg.TypingDebounce,
		TypingExpiry:         cfg.TypingExpiry,
		ReconnectInterval:    cfg.ReconnectInterval,
		AllowConcurrentSends: cfg.AllowConcurrentSends,
	}
}

func provideRetrier(db *store.DB, m *messenger.Messenger, b *bus.Bus, logger *zap.Logger) *outbox.Retrier {
	return outbox.NewRetrier(db, m, b, logger.Named("retrier"), outbox.DefaultInterval)
}

func provideService(p Params, m *messenger.Messenger, journal *outbox.Journal, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.SessionName, m, journal, b, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, m *messenger.Messenger, retrier *outbox.Retrier, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// A failed first connect is retried by the messenger itself.
			if err := m.Start(ctx); err != nil {
				return err
			}
			retrier.Start(context.Background())
			logger.Info("daemon started", zap.String("user_id", m.UserID()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			retrier.Stop()
			m.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
