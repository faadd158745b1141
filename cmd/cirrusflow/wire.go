package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"cirrusflow/internal/backend"
	"cirrusflow/internal/config"
	"cirrusflow/internal/engine"
	"cirrusflow/internal/host"
	"cirrusflow/internal/logging"
	"cirrusflow/internal/metrics"
	"cirrusflow/internal/store"
	"cirrusflow/internal/target"
)

// app bundles everything a command needs: the engine plus the store it was
// built on (commands like "info" read the store directly without going
// through the Gateway's coarser Summary shape).
type app struct {
	cfg    config.Config
	store  *store.Store
	engine *engine.Engine
}

// boot opens the store at cfg.DBRoot, registers every compiled-in backend,
// and wires a single local Host for every target — the CLI has no host
// inventory of its own, unlike a real deployment's config-driven host pool.
func boot(cfg config.Config) (*app, error) {
	st, err := store.Open(cfg.DBRoot)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", cfg.DBRoot, err)
	}
	if err := st.Recover(context.Background()); err != nil {
		return nil, fmt.Errorf("recover store at %s: %w", cfg.DBRoot, err)
	}

	backends := backend.NewRegistry()
	for _, b := range []backend.Backend{backend.NewProcess(), backend.NewPBS(), backend.NewLSF(), backend.NewBigQuery()} {
		backends.Register(b)
	}

	logger, err := logging.NewFile(cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", cfg.LogPath, err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	localHost := host.NewLocal("local")
	hostOf := func(_ *target.Target) host.Host { return localHost }

	eng := engine.New(st, backends, hostOf, cfg.EngineConfig(), logger, m)
	return &app{cfg: cfg, store: st, engine: eng}, nil
}
