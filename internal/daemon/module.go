package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lfelipe/chirp/internal/api"
	"github.com/lfelipe/chirp/internal/bus"
	"github.com/lfelipe/chirp/internal/chat"
	"github.com/lfelipe/chirp/internal/config"
	"github.com/lfelipe/chirp/internal/engine"
	"github.com/lfelipe/chirp/internal/lock"
	"github.com/lfelipe/chirp/internal/logging"
	"github.com/lfelipe/chirp/internal/mqtt"
	"github.com/lfelipe/chirp/internal/outbox"
	"github.com/lfelipe/chirp/internal/realtime"
	"github.com/lfelipe/chirp/internal/session"
	"github.com/lfelipe/chirp/internal/store"
	"github.com/lfelipe/chirp/internal/token"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideConfig,
			provideLock,
			provideStore,
			provideTokenStore,
			provideAPIClient,
			provideChatStore,
			provideRegistry,
			provideTransport,
			provideBridge,
			provideEngine,
			provideSender,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
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

func provideTokenStore(p Params) *token.Store {
	return token.NewStore(session.TokenPath(p.SessionName))
}

func provideAPIClient(cfg *config.Config, tokens *token.Store, logger *zap.Logger) (*api.Client, error) {
	return api.NewClient(cfg.API.BaseURL, tokens, logger)
}

func provideChatStore(tokens *token.Store) *chat.Store {
	return chat.NewStore(tokens.Subject())
}

func provideRegistry(logger *zap.Logger) *mqtt.Registry {
	return mqtt.NewRegistry(logger)
}

func provideTransport(p Params, cfg *config.Config, registry *mqtt.Registry) (*mqtt.Client, error) {
	clientID := cfg.Broker.ClientID
	if clientID == "" {
		clientID = "chirpd-" + p.SessionName
	}
	return registry.Client(mqtt.Config{
		BrokerURL: cfg.Broker.URL,
		ClientID:  clientID,
		Username:  cfg.Broker.Username,
		Password:  cfg.Broker.Password,
	})
}

func provideBridge(transport *mqtt.Client, b *bus.Bus, logger *zap.Logger) *realtime.Bridge {
	return realtime.New(transport, b, logger)
}

func provideEngine(db *store.DB, chats *chat.Store, b *bus.Bus, tokens *token.Store, logger *zap.Logger) *engine.Engine {
	return engine.NewEngine(db, chats, b, logger, tokens.Subject())
}

func provideSender(db *store.DB, chats *chat.Store, client *api.Client, bridge *realtime.Bridge, b *bus.Bus, tokens *token.Store, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, chats, client, bridge, b, logger, tokens.Subject())
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, bridge *realtime.Bridge, eng *engine.Engine, sender *outbox.Sender, client *api.Client, chats *chat.Store, tokens *token.Store, registry *mqtt.Registry, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx := context.Background()

			// Engine first, so bridge events always find a consumer.
			eng.Start(ctx)

			go func() {
				if err := bridge.Start(ctx); err != nil {
					logger.Error("realtime bridge start failed", zap.Error(err))
				}
			}()

			sender.Start(ctx)

			if tokens.Subject() == "" {
				logger.Info("no saved credentials, login required before sync")
				return nil
			}

			go func() {
				if err := eng.Reconcile(ctx, client); err != nil {
					logger.Error("initial reconcile failed", zap.Error(err))
					return
				}
				for _, id := range chats.ConversationIDs() {
					if err := bridge.SubscribeConversation(ctx, id); err != nil {
						logger.Warn("conversation subscribe failed", zap.Error(err), zap.String("conversation_id", id))
					}
				}
				logger.Info("initial reconcile complete", zap.Int("conversations", len(chats.ConversationIDs())))
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			sender.Stop()
			eng.Stop()
			bridge.Stop()
			registry.CloseAll()
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
