package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/54b3r/brandrag/internal/cleanup"
	"github.com/54b3r/brandrag/internal/config"
	"github.com/54b3r/brandrag/internal/embedder"
	"github.com/54b3r/brandrag/internal/engine"
	"github.com/54b3r/brandrag/internal/feedback"
	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/metrics"
	"github.com/54b3r/brandrag/internal/qdrant"
	"github.com/54b3r/brandrag/internal/ratelimit"
	"github.com/54b3r/brandrag/internal/server"
	"github.com/54b3r/brandrag/internal/settings"
	"github.com/54b3r/brandrag/internal/store"
	"github.com/54b3r/brandrag/internal/vector"
)

// app holds the wired services shared by the commands.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	db       *store.SQLiteStore
	repo     vector.Repository
	settings *settings.Cache
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	pingers  []server.Pinger

	// Set only when the app was opened with an embedder.
	engine  *engine.Engine
	tracker *feedback.Tracker
	cleaner *cleanup.Scheduler

	closers []func() error
}

// openApp resolves the configuration and opens the stores. When withEmbedder
// is true it also validates and builds the embedding provider and the
// services that depend on it.
func openApp(ctx context.Context, log *slog.Logger, withEmbedder bool) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	dbPath := cfg.Store.DBPath
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	a.pingers = append(a.pingers, db)
	log.Info("store opened", slog.String("path", dbPath))

	a.settings = settings.NewCache(db, settings.WithLogger(log))

	if err := a.openRepo(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.cleaner = cleanup.New(cleanup.Config{
		Repo:     a.repo,
		Settings: a.settings,
		Metrics:  a.metrics,
		Logger:   log,
	})

	if !withEmbedder {
		return a, nil
	}
	if err := a.openEngine(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openRepo(ctx context.Context) error {
	if a.cfg.Store.VectorBackend != config.BackendQdrant {
		a.repo = a.db
		return nil
	}

	dims := a.settings.Get(ctx).Embedding.Dimensions
	if dims <= 0 {
		dims = embedder.DefaultDimensions(embedder.Backend())
	}
	qs, err := qdrant.Open(ctx, qdrant.Config{
		Host:       a.cfg.Qdrant.Host,
		Port:       a.cfg.Qdrant.Port,
		Collection: a.cfg.Qdrant.Collection,
		VectorSize: uint64(dims),
		APIKey:     a.cfg.Qdrant.APIKey,
		UseTLS:     a.cfg.Qdrant.TLS,
	})
	if err != nil {
		return fmt.Errorf("open qdrant: %w", err)
	}
	a.repo = qs
	a.closers = append(a.closers, qs.Close)
	a.pingers = append(a.pingers, qs)
	a.log.Info("vector backend ready", slog.String("backend", "qdrant"), slog.Int("dimensions", dims))
	return nil
}

func (a *app) openEngine(ctx context.Context) error {
	if err := embedder.Validate(a.log, a.settings.Get(ctx).Embedding.Model); err != nil {
		return err
	}
	provider, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return err
	}
	adapter := embedder.NewAdapter(embedder.AdapterConfig{
		Provider: provider,
		Settings: a.settings,
		Timeout:  embedder.Timeout(),
		Metrics:  a.metrics,
		Logger:   a.log,
	})
	a.pingers = append(a.pingers, adapter)
	a.log.Info("embedder initialised", slog.String("provider", provider.Name()))

	limiter := ratelimit.New(ratelimit.Config{
		Counter:   a.repo,
		Settings:  a.settings,
		Overrides: a.db,
		Logger:    a.log,
	})
	a.engine = engine.New(engine.Config{
		Repo:     a.repo,
		Embedder: adapter,
		Limiter:  limiter,
		Settings: a.settings,
		Metrics:  a.metrics,
		Logger:   a.log,
	})

	fbLimiter := ratelimit.NewFeedback(ratelimit.CounterFunc(a.db.CountFeedbackSince), a.settings, time.Now, a.log)
	a.tracker = feedback.NewTracker(feedback.Config{
		Store:   a.db,
		Limiter: fbLimiter,
		Vectors: a.engine,
		Metrics: a.metrics,
		Logger:  a.log,
	})
	return nil
}

// Close releases the stores in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", logging.Err(err))
		}
	}
	a.closers = nil
}
