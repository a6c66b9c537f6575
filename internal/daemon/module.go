package daemon

import (
	"context"
	"os"

	"github.com/lfcamargo/wadash/internal/autoreply"
	"github.com/lfcamargo/wadash/internal/bus"
	"github.com/lfcamargo/wadash/internal/config"
	"github.com/lfcamargo/wadash/internal/httpapi"
	"github.com/lfcamargo/wadash/internal/hub"
	"github.com/lfcamargo/wadash/internal/ingest"
	"github.com/lfcamargo/wadash/internal/lifecycle"
	"github.com/lfcamargo/wadash/internal/lock"
	"github.com/lfcamargo/wadash/internal/logging"
	"github.com/lfcamargo/wadash/internal/outbox"
	"github.com/lfcamargo/wadash/internal/session"
	"github.com/lfcamargo/wadash/internal/status"
	"github.com/lfcamargo/wadash/internal/store"
	"github.com/lfcamargo/wadash/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	Addr        string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideManager,
			provideReplier,
			provideSender,
			provideEngine,
			provideHub,
			provideAPI,
			NewServer,
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

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) store.Store {
	return store.Open(session.AppDBPath(p.SessionName), logger)
}

func provideManager(p Params, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *lifecycle.Manager {
	return lifecycle.New(p.SessionName, wa.NewAdapter, machine, b, p.Config.Reconnect, logger)
}

func provideReplier(p Params, logger *zap.Logger) *autoreply.Client {
	apiKey := os.Getenv(p.Config.AutoReply.APIKeyEnv)
	if apiKey == "" {
		logger.Warn("reply api key not set, generated replies disabled",
			zap.String("env", p.Config.AutoReply.APIKeyEnv))
	}
	return autoreply.New(p.Config.AutoReply, apiKey, logger)
}

func provideSender(db store.Store, manager *lifecycle.Manager, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, manager, b, logger)
}

func provideEngine(db store.Store, b *bus.Bus, replier *autoreply.Client, sender *outbox.Sender, logger *zap.Logger) *ingest.Engine {
	return ingest.NewEngine(db, b, replier, sender, logger)
}

func provideHub(manager *lifecycle.Manager, b *bus.Bus, logger *zap.Logger) *hub.Hub {
	return hub.New(manager, b, logger)
}

func provideAPI(manager *lifecycle.Manager, db store.Store, sender *outbox.Sender, h *hub.Hub, logger *zap.Logger) *httpapi.API {
	return httpapi.New(manager, db, sender, h, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, manager *lifecycle.Manager, engine *ingest.Engine, h *hub.Hub, db store.Store, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Subscribe the ingest engine and websocket hub before any
			// adapter events can flow.
			engine.Start(context.Background())
			h.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			// Begin the connection attempt. Failures surface through the
			// status stream, not through daemon startup.
			if err := manager.Start(); err != nil {
				logger.Error("session start failed", zap.Error(err))
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.Stop()
			engine.Stop()
			h.Stop()
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
