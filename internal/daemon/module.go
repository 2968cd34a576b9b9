package daemon

import (
	"context"
	"net/http"

	"github.com/matheus3301/gigline/internal/api"
	"github.com/matheus3301/gigline/internal/backend"
	"github.com/matheus3301/gigline/internal/bus"
	"github.com/matheus3301/gigline/internal/channel"
	"github.com/matheus3301/gigline/internal/config"
	"github.com/matheus3301/gigline/internal/conversation"
	"github.com/matheus3301/gigline/internal/gateway"
	"github.com/matheus3301/gigline/internal/lock"
	"github.com/matheus3301/gigline/internal/logging"
	"github.com/matheus3301/gigline/internal/profile"
	"github.com/matheus3301/gigline/internal/session"
	"github.com/matheus3301/gigline/internal/store"
	intsync "github.com/matheus3301/gigline/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	ConfigPath string // optional override; empty = ~/.gigline/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideCredentialStore,
			provideGateway,
			provideChannel,
			provideConversation,
			provideBackend,
			provideSyncEngine,
			provideSupervisor,
			provideSessionService,
			provideChatService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:    profile.LogPath(p.Profile),
		Profile: p.Profile,
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
	})
}

func provideBus() *bus.Bus {
	return bus.New()
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

// provideStore depends on the lock so the database is never opened by a
// second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
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

func provideCredentialStore(db *store.DB, logger *zap.Logger) *store.CredentialStore {
	return store.NewCredentialStore(db, logger)
}

func provideGateway(cfg *config.Config, creds *store.CredentialStore, b *bus.Bus, logger *zap.Logger) *gateway.Gateway {
	return gateway.New(gateway.Config{
		BaseURL:        cfg.Backend.BaseURL,
		RequestTimeout: cfg.Backend.RequestTimeout.Duration,
		RefreshTimeout: cfg.Backend.RefreshTimeout.Duration,
	}, &http.Client{}, creds, b, logger.Named("gateway"))
}

func provideChannel(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *channel.Manager {
	return channel.NewManager(channel.Config{
		URL:               cfg.Backend.SocketURL,
		HandshakeTimeout:  cfg.Channel.HandshakeTimeout.Duration,
		HeartbeatInterval: cfg.Channel.HeartbeatInterval.Duration,
	}, b, logger.Named("channel"))
}

func provideConversation(cfg *config.Config, ch *channel.Manager, b *bus.Bus, logger *zap.Logger) *conversation.Store {
	return conversation.NewStore(conversation.Config{
		TypingTTL: cfg.Chat.TypingTTL.Duration,
	}, ch, b, logger.Named("conversation"))
}

func provideBackend(gw *gateway.Gateway) *backend.Client {
	return backend.NewClient(gw)
}

func provideSyncEngine(conv *conversation.Store, bc *backend.Client, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(conv, bc, b, logger.Named("sync"))
}

func provideSupervisor(gw *gateway.Gateway, ch *channel.Manager, engine *intsync.Engine, conv *conversation.Store, db *store.DB, b *bus.Bus, logger *zap.Logger) *session.Supervisor {
	return session.New(gw, ch, engine, conv, db, b, logger.Named("session"))
}

func provideSessionService(p Params, sup *session.Supervisor, b *bus.Bus, logger *zap.Logger) *api.SessionService {
	return api.NewSessionService(p.Profile, sup, b, logger.Named("api"))
}

func provideChatService(conv *conversation.Store, engine *intsync.Engine, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(conv, engine, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, sup *session.Supervisor, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// Restore the session; opening the channel may take a full
			// handshake timeout, so it does not hold up startup.
			go func() {
				if err := sup.Start(context.Background()); err != nil {
					logger.Error("session start failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sup.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
