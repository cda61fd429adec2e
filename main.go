package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/orderwatch/orderwatch/internal/app"
	"github.com/orderwatch/orderwatch/internal/broadcast"
	"github.com/orderwatch/orderwatch/internal/config"
	"github.com/orderwatch/orderwatch/internal/engine"
	"github.com/orderwatch/orderwatch/internal/server"
	"github.com/orderwatch/orderwatch/internal/store"
	"github.com/orderwatch/orderwatch/internal/wal"
)

func main() {
	application, err := initialize()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}

	if err = application.Run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("shutdown with error")
	}
}

func initialize() (*app.App, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var deps []app.Dependency

	// WAL failure here is fatal: the process must not serve without its
	// backing storage.
	walManager, err := wal.New(&wal.Config{
		Path: cfg.DataDir,
	})
	if err != nil {
		return nil, err
	}

	orderStore, err := store.New(&store.Config{
		WAL:        walManager,
		NativeFeed: cfg.NativeFeed,
	})
	if err != nil {
		return nil, err
	}
	deps = append(deps, orderStore)

	registry, err := broadcast.New(&broadcast.Config{})
	if err != nil {
		return nil, err
	}
	deps = append(deps, registry)

	feed, err := broadcast.NewFeed(&broadcast.FeedConfig{
		Address:  cfg.FeedAddress,
		Port:     cfg.FeedPort,
		Registry: registry,
	})
	if err != nil {
		return nil, err
	}
	deps = append(deps, feed)

	propagation, err := engine.New(&engine.Config{
		Store:           orderStore,
		Registry:        registry,
		PollInterval:    cfg.PollInterval,
		InsertThreshold: cfg.InsertThreshold,
	})
	if err != nil {
		return nil, err
	}
	deps = append(deps, propagation)

	srv, err := server.New(&server.Config{
		Port:     cfg.Port,
		Store:    orderStore,
		Engine:   propagation,
		Registry: registry,
	})
	if err != nil {
		return nil, err
	}
	deps = append(deps, srv)

	return app.CreateApp(&app.Config{
		ServiceName: "Orderwatch",
		StopTimeout: 10 * time.Second,
	}, deps...)
}
