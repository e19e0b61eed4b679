package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/gfreires/feira/internal/api"
	"github.com/gfreires/feira/internal/auth"
	"github.com/gfreires/feira/internal/bus"
	"github.com/gfreires/feira/internal/chat"
	"github.com/gfreires/feira/internal/config"
	"github.com/gfreires/feira/internal/lock"
	"github.com/gfreires/feira/internal/logging"
	"github.com/gfreires/feira/internal/outbox"
	"github.com/gfreires/feira/internal/realtime"
	"github.com/gfreires/feira/internal/rest"
	"github.com/gfreires/feira/internal/session"
	"github.com/gfreires/feira/internal/status"
	"github.com/gfreires/feira/internal/store"
	intsync "github.com/gfreires/feira/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTokenSource,
			provideRESTClient,
			provideManager,
			provideConnection,
			provideChatStore,
			provideSyncEngine,
			provideReconciler,
			provideSender,
			provideSessionService,
			provideChatService,
			provideMessageService,
			provideListingService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig() *config.Config {
	return config.LoadOrDefault(session.ConfigPath())
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

func provideTokenSource(p Params, cfg *config.Config, logger *zap.Logger) *auth.Source {
	credsPath := session.CredentialsPath(p.SessionName)
	pair, err := auth.LoadCredentials(credsPath)
	if err != nil {
		logger.Info("no stored credentials, login required")
	}

	authClient := rest.NewAuthClient(cfg.APIBaseURL, logger)
	persist := func(pair auth.TokenPair) error {
		return auth.SaveCredentials(credsPath, pair)
	}
	return auth.NewSource(pair, authClient.RefreshFunc(), persist, logger)
}

func provideRESTClient(cfg *config.Config, source *auth.Source, logger *zap.Logger) *rest.Client {
	transport := auth.NewTransport(source, http.DefaultTransport, logger)
	return rest.NewClient(cfg.APIBaseURL, transport, logger)
}

func provideManager(cfg *config.Config, source *auth.Source, machine *status.Machine, logger *zap.Logger) *realtime.Manager {
	opts := realtime.Options{
		URL:         cfg.RealtimeURL,
		BaseDelay:   cfg.ReconnectBaseDelay(),
		MaxDelay:    cfg.ReconnectMaxDelay(),
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		Credentials: func(ctx context.Context) (string, error) {
			pair := source.Current()
			if !pair.Valid() {
				return "", auth.ErrNoCredentials
			}
			if pair.AccessExpired(time.Now()) {
				fresh, err := source.Refresh(ctx)
				if err != nil {
					return "", err
				}
				return fresh.AccessToken, nil
			}
			return pair.AccessToken, nil
		},
	}
	return realtime.NewManager(opts, realtime.WebsocketDialer{}, machine, logger)
}

func provideConnection(manager *realtime.Manager, source *auth.Source) *Connection {
	return NewConnection(manager, source)
}

func provideChatStore(cfg *config.Config, source *auth.Source, conn *Connection, client *rest.Client, b *bus.Bus, logger *zap.Logger) *chat.Store {
	return chat.NewStore(chat.Config{
		LocalUserID: source.Current().UserID(),
		PageSize:    cfg.PageSize,
	}, conn.Manager(), client, client, b, logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, source *auth.Source, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, source.Current().UserID(), logger)
}

func provideReconciler(db *store.DB, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, logger)
}

func provideSender(db *store.DB, conn *Connection, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, conn, b, logger)
}

func provideSessionService(p Params, conn *Connection, db *store.DB) *api.SessionService {
	return api.NewSessionService(p.SessionName, conn, db)
}

func provideChatService(db *store.DB, chats *chat.Store, recon *intsync.Reconciler) *api.ChatService {
	return api.NewChatService(db, chats, recon)
}

func provideMessageService(db *store.DB, chats *chat.Store) *api.MessageService {
	return api.NewMessageService(db, chats)
}

func provideListingService(client *rest.Client) *api.ListingService {
	return api.NewListingService(client)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, conn *Connection, chatStore *chat.Store, client *rest.Client, engine *intsync.Engine, sender *outbox.Sender, source *auth.Source, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start sync engine (subscribes to chat.* bus events).
			engine.Start(context.Background())

			// Route inbound realtime events into the chat store.
			chatStore.Bind(conn.Manager())

			// Start control server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			// Start outbox sender.
			sender.Start(context.Background())

			// Connect if credentials are present; otherwise wait for login.
			if source.Current().Valid() {
				go func() {
					ctx := context.Background()
					if err := conn.Connect(ctx); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
						return
					}
					// Warm the conversation cache once connected.
					if convs, err := client.Conversations(ctx); err != nil {
						logger.Warn("conversation snapshot failed", zap.Error(err))
					} else if err := engine.SnapshotConversations(convs); err != nil {
						logger.Warn("conversation snapshot persist failed", zap.Error(err))
					}
				}()
			} else {
				logger.Info("no credentials found, login required")
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			engine.Stop()
			conn.Disconnect()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
