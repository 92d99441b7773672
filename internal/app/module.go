package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/cadenzahq/cadenza/internal/backend"
	"github.com/cadenzahq/cadenza/internal/bus"
	"github.com/cadenzahq/cadenza/internal/chat"
	"github.com/cadenzahq/cadenza/internal/config"
	"github.com/cadenzahq/cadenza/internal/lock"
	"github.com/cadenzahq/cadenza/internal/logging"
	"github.com/cadenzahq/cadenza/internal/outbox"
	"github.com/cadenzahq/cadenza/internal/session"
	"github.com/cadenzahq/cadenza/internal/store"
	intsync "github.com/cadenzahq/cadenza/internal/sync"
	"github.com/cadenzahq/cadenza/internal/tui"
	"github.com/cadenzahq/cadenza/internal/tui/model"
	"github.com/cadenzahq/cadenza/internal/upload"
	"github.com/cadenzahq/cadenza/internal/view"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
}

// Module returns the fx module for the client, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("cadenza",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideBackend,
			provideUploader,
			provideChatService,
			provideSyncEngine,
			provideSender,
			provideCoordinator,
			provideViewModel,
			provideApp,
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

func provideBackend(p Params, logger *zap.Logger) backend.Client {
	return backend.NewHTTP(p.Config.Backend.BaseURL, p.Config.Backend.Token, logger)
}

func provideUploader(p Params, client backend.Client, b *bus.Bus, logger *zap.Logger) *upload.Uploader {
	return upload.New(client, p.Config.Upload, b, logger)
}

func provideChatService(p Params, db *store.DB, b *bus.Bus, uploader *upload.Uploader, logger *zap.Logger) *chat.Service {
	return chat.NewService(db, b, uploader, p.Config.Backend.UserID, logger)
}

func provideSyncEngine(p Params, db *store.DB, b *bus.Bus, client backend.Client, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, client, p.Config.Backend.UserID, logger)
}

func provideSender(db *store.DB, b *bus.Bus, client backend.Client, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, b, client, logger)
}

func provideCoordinator(p Params, b *bus.Bus) *view.Coordinator {
	return view.NewCoordinator(p.Config.UI.BreakpointCols, b)
}

func provideViewModel(svc *chat.Service) *model.ViewModel {
	return model.NewViewModel(svc)
}

func provideApp(p Params, vm *model.ViewModel, coordinator *view.Coordinator) *tui.App {
	return tui.NewApp(vm, coordinator, p.SessionName)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, client backend.Client, engine *intsync.Engine, sender *outbox.Sender, b *bus.Bus, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start sync engine (subscribes to remote.* bus events).
			engine.Start(context.Background())

			// Route backend push events onto the bus.
			handler := backend.NewEventHandler(b, logger)
			client.RegisterEventHandler(handler.Handle)
			if err := client.Connect(context.Background()); err != nil {
				logger.Warn("backend connect failed, running from local projection", zap.Error(err))
			}

			// Pull the initial snapshot in the background so the UI comes
			// up on whatever the projection already holds.
			go func() {
				if err := engine.Bootstrap(context.Background()); err != nil {
					logger.Warn("bootstrap failed", zap.Error(err))
				}
			}()

			// Start outbox sender.
			sender.Start(context.Background())

			return nil
		},
		OnStop: func(_ context.Context) error {
			sender.Stop()
			engine.Stop()
			_ = client.Close()
			_ = db.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("session stopped")
			return nil
		},
	})
}
