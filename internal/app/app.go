package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/LELOCQUOCTHINH/topichat-server/internal/config"
	"github.com/LELOCQUOCTHINH/topichat-server/internal/core"
	"github.com/LELOCQUOCTHINH/topichat-server/internal/server"
	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage"
	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage/jsonfile"
	"github.com/LELOCQUOCTHINH/topichat-server/internal/storage/sqlite"
)

// App wires together storage, domain stores, and transports.
type App struct {
	cfg    config.Config
	server *server.Server
	ws     *server.WSBridge
	store  storage.Store
	log    *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	logger.Info().Str("backend", cfg.Storage).Msg("storage initialized")

	ids, err := core.NewIdentityStore(st, *logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load identities: %w", err)
	}
	channels, err := core.NewChannelStore(st, *logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load channels: %w", err)
	}
	messages, err := core.NewMessageStore(channels, st, *logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load messages: %w", err)
	}
	streams := core.NewLivestreamRegistry(channels)

	srv := server.New(server.Options{
		Addr:         cfg.Addr,
		PollInterval: cfg.PollInterval,
		IdleTimeout:  cfg.IdleTimeout,
		QueueDepth:   cfg.QueueDepth,
		RatePerSec:   cfg.RatePerSec,
		RateBurst:    cfg.RateBurst,
	}, ids, channels, messages, streams, st, *logger)

	a := &App{cfg: cfg, server: srv, store: st, log: logger}
	if cfg.WSAddr != "" {
		a.ws = server.NewWSBridge(srv, cfg.WSAddr, *logger)
	}
	return a, nil
}

func openStore(cfg config.Config, logger *zerolog.Logger) (storage.Store, error) {
	switch cfg.Storage {
	case config.StorageJSONFile:
		return jsonfile.Open(cfg.DataDir, cfg.EventLogMax, *logger)
	case config.StorageSQLite:
		return sqlite.Open(cfg.DatabasePath)
	case config.StorageMemory:
		return storage.Discard{}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// Run starts the listeners and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	if err := a.server.Listen(); err != nil {
		a.cleanup()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Serve(gctx) })
	if a.ws != nil {
		g.Go(func() error { return a.ws.Run(gctx) })
	}

	err := g.Wait()
	a.cleanup()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// cleanup closes storage and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close storage")
		} else {
			a.log.Info().Msg("storage closed")
		}
	}
}
