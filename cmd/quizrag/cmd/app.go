package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/quizrag/internal/blob"
	"github.com/Aman-CERP/quizrag/internal/cache"
	"github.com/Aman-CERP/quizrag/internal/config"
	"github.com/Aman-CERP/quizrag/internal/embed"
	"github.com/Aman-CERP/quizrag/internal/index"
	"github.com/Aman-CERP/quizrag/internal/llm"
	"github.com/Aman-CERP/quizrag/internal/maintenance"
	"github.com/Aman-CERP/quizrag/internal/queue"
	"github.com/Aman-CERP/quizrag/internal/rag"
	"github.com/Aman-CERP/quizrag/internal/search"
	"github.com/Aman-CERP/quizrag/internal/source"
	"github.com/Aman-CERP/quizrag/internal/store"
	"github.com/Aman-CERP/quizrag/internal/telemetry"
)

// app holds the components a command needs. Optional parts are nil until
// their open method is called; close releases whatever was opened.
type app struct {
	cfg      *config.Config
	store    *store.IndexStore
	embedder *embed.CachedEmbedder
	pipeline *embed.Pipeline
	cache    *cache.IndexCache
	lock     *maintenance.Lock
	source   *source.FileSource
	manager  *index.Manager

	engine   *search.Engine
	rag      *rag.Service
	recorder *telemetry.Recorder
	telStore *telemetry.SQLiteStore

	queueStore *queue.SQLiteStore
	queue      *queue.Queue
}

// newApp loads configuration for dir and builds the storage and indexing
// core. Nothing here contacts the embedding service.
func newApp(ctx context.Context, dir string) (*app, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	return newAppFromConfig(ctx, cfg)
}

func newAppFromConfig(ctx context.Context, cfg *config.Config) (*app, error) {
	blobs, err := blob.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	ledger, err := blob.OpenLedger(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open version ledger: %w", err)
	}
	compression, err := store.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.store = store.New(blobs, store.Options{
		Path:         cfg.Storage.IndexPath,
		BackupPrefix: cfg.Storage.BackupPrefix,
		Compression:  compression,
		Ledger:       ledger,
		MaxBackups:   cfg.Storage.MaxBackups,
	})

	a.embedder, err = embed.New(cfg.Embeddings)
	if err != nil {
		return nil, err
	}
	a.pipeline = embed.NewPipeline(a.embedder, cfg.Embeddings.RequestsPerSecond)
	a.cache = cache.New(a.store, cache.WithTTL(config.Duration(cfg.Cache.TTL, cache.DefaultTTL)))
	a.lock = maintenance.New(cfg.Maintenance.LockPath)
	a.source = source.NewFileSource(cfg.Source.Dir)

	a.manager, err = index.NewManager(index.Dependencies{
		Store:    a.store,
		Pipeline: a.pipeline,
		Source:   a.source,
		Lock:     a.lock,
		Cache:    a.cache,
	})
	if err != nil {
		_ = a.embedder.Close()
		return nil, err
	}
	return a, nil
}

// openRetrieval builds the search engine and the orchestrator, with
// telemetry when enabled.
func (a *app) openRetrieval() error {
	if a.rag != nil {
		return nil
	}
	scfg, err := search.ConfigFrom(a.cfg.Search, a.cfg.Confidence)
	if err != nil {
		return err
	}
	a.engine, err = search.NewEngine(a.cache, a.pipeline, scfg, search.WithGenerator(llm.FromConfig(a.cfg.LLM)))
	if err != nil {
		return err
	}

	opts := []rag.Option{rag.WithTimeout(config.Duration(a.cfg.Search.Timeout, rag.DefaultTimeout))}
	if a.cfg.Telemetry.Enabled {
		if err := a.openTelemetry(); err != nil {
			slog.Warn("telemetry_disabled", slog.String("error", err.Error()))
		} else {
			a.recorder = telemetry.NewRecorder(a.telStore, telemetry.Config{
				FlushInterval: config.Duration(a.cfg.Telemetry.FlushInterval, telemetry.DefaultConfig().FlushInterval),
			})
			opts = append(opts, rag.WithRecorder(a.recorder))
		}
	}
	a.rag = rag.NewService(a.engine, opts...)
	return nil
}

// openTelemetry opens the telemetry database.
func (a *app) openTelemetry() error {
	if a.telStore != nil {
		return nil
	}
	s, err := telemetry.OpenSQLite(a.cfg.Telemetry.Path)
	if err != nil {
		return err
	}
	a.telStore = s
	return nil
}

// openQueue opens the durable task queue.
func (a *app) openQueue() error {
	if a.queue != nil {
		return nil
	}
	s, err := queue.OpenSQLite(a.cfg.Queue.Path)
	if err != nil {
		return err
	}
	a.queueStore = s
	a.queue = queue.FromConfig(s, a.cfg.Queue)
	return nil
}

// processor drains the queue into the index, gated by the maintenance lock.
func (a *app) processor() *queue.Processor {
	return queue.NewProcessor(a.queue, a.manager, a.lock)
}

// embedderInfo describes the configured embedder for display.
func (a *app) embedderInfo() (provider, model string, dims int) {
	return a.cfg.Embeddings.Provider, a.embedder.ModelName(), a.embedder.Dimensions()
}

func (a *app) close() error {
	var errs []error
	if a.recorder != nil {
		errs = append(errs, a.recorder.Close())
	}
	if a.telStore != nil {
		errs = append(errs, a.telStore.Close())
	}
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	if a.queueStore != nil {
		errs = append(errs, a.queueStore.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	return errors.Join(errs...)
}
