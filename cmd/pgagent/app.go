package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nevindra/pgagent"
	"github.com/nevindra/pgagent/internal/config"
	"github.com/nevindra/pgagent/observer"
	"github.com/nevindra/pgagent/provider/resolve"
	"github.com/nevindra/pgagent/store/postgres"
	"github.com/nevindra/pgagent/store/sqlite"
)

// app is the wired runtime shared by every subcommand.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	memory pgagent.MemoryGateway
	orch   *pgagent.Orchestrator

	shutdown func(context.Context) error
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.LogLevel()}))
}

// openMemory connects the memory gateway selected by database.driver.
func openMemory(ctx context.Context, cfg config.Config, logger *slog.Logger) (pgagent.MemoryGateway, error) {
	switch cfg.Database.Driver {
	case "", "postgres", "postgresql":
		g, err := postgres.Open(ctx, cfg.Database.URL, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return g, nil
	case "sqlite":
		g, err := sqlite.Open(ctx, cfg.Database.Path, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q (want postgres or sqlite)", cfg.Database.Driver)
	}
}

// newApp connects storage, builds the provider gateway and, when enabled,
// installs OpenTelemetry instrumentation around both.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	mem, err := openMemory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, shutdown: func(context.Context) error { return nil }}

	opts := resolve.Options{
		Timeout:   cfg.ProviderTimeout(),
		CacheSize: cfg.Provider.EmbeddingCacheSize,
		Logger:    logger,
	}
	orchOpts := []pgagent.OrchestratorOption{
		pgagent.WithLogger(logger),
		pgagent.WithAssembler(pgagent.Assembler{MaxContentRunes: cfg.Context.MaxContentRunes}),
		pgagent.WithMemoriesReturned(cfg.Context.MemoriesReturned),
	}

	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(ctx, pricing(cfg))
		if err != nil {
			mem.Close()
			return nil, fmt.Errorf("observer init: %w", err)
		}
		a.shutdown = shutdown
		opts.WrapEmbedder = func(e pgagent.Embedder) pgagent.Embedder { return observer.WrapEmbedder(e, inst) }
		opts.WrapChat = func(p pgagent.ChatProvider) pgagent.ChatProvider { return observer.WrapChat(p, inst) }
		mem = observer.WrapMemory(mem, inst)
		orchOpts = append(orchOpts, pgagent.WithTracer(observer.NewTracer()))
		logger.Info("observer enabled")
	}

	gw, err := resolve.Gateway(opts, pgagent.WithMaxTokens(cfg.Provider.MaxTokens))
	if err != nil {
		mem.Close()
		_ = a.shutdown(ctx)
		return nil, err
	}
	sessions := pgagent.NewSessionStore(
		pgagent.WithMaxSessions(cfg.Session.MaxSessions),
		pgagent.WithMaxTurns(cfg.Session.MaxTurns),
	)
	a.memory = mem
	a.orch = pgagent.NewOrchestrator(gw, mem, sessions, orchOpts...)
	return a, nil
}

func (a *app) Close(ctx context.Context) error {
	err := a.memory.Close()
	if serr := a.shutdown(ctx); serr != nil && err == nil {
		err = serr
	}
	return err
}

func pricing(cfg config.Config) map[string]observer.ModelPricing {
	out := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
	for model, p := range cfg.Observer.Pricing {
		out[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
	}
	return out
}
