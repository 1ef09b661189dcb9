// Package app wires the Continuum components into a running service:
// store, providers, memory engine, and the background sweep scheduler.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/continuumhq/continuum/common/redact"
	"github.com/continuumhq/continuum/internal/config"
	"github.com/continuumhq/continuum/internal/memory"
	"github.com/continuumhq/continuum/internal/store"
)

// App is the assembled Continuum service.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	engine *memory.Engine
	sweeps *memory.SweepScheduler

	stop chan struct{}
}

// New builds the full component graph from configuration. Providers degrade
// to noops when no API key is configured; the engine stays functional for
// buffering and sequential recall.
func New(cfg config.Config) (*App, error) {
	logger := buildLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("app: configuration loaded",
		"settings", redact.Map(map[string]any{
			"dbPath":     cfg.DatabasePath,
			"baseURL":    cfg.Providers.BaseURL,
			"apiKey":     cfg.Providers.APIKey,
			"embedModel": cfg.Providers.EmbedModel,
			"chatModel":  cfg.Providers.ChatModel,
		}))

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	var (
		embedder   memory.Embedder   = memory.NoopEmbedder{}
		summarizer memory.Summarizer = memory.NoopSummarizer{}
		extractor  memory.Extractor  = memory.NoopExtractor{}
		embedModel string
	)
	if cfg.Providers.APIKey != "" {
		oe := memory.NewOpenAIEmbedder(memory.OpenAIEmbedderConfig{
			APIKey:  cfg.Providers.APIKey,
			BaseURL: cfg.Providers.BaseURL,
			Model:   cfg.Providers.EmbedModel,
		})
		embedder = oe
		embedModel = oe.Model()
		summarizer = memory.NewLLMSummarizer(memory.LLMSummarizerConfig{
			APIKey:  cfg.Providers.APIKey,
			BaseURL: cfg.Providers.BaseURL,
			Model:   cfg.Providers.ChatModel,
		})
		extractor = memory.NewLLMExtractor(memory.LLMExtractorConfig{
			APIKey:  cfg.Providers.APIKey,
			BaseURL: cfg.Providers.BaseURL,
			Model:   cfg.Providers.ChatModel,
		})
		logger.Info("app: LLM providers enabled",
			"embed_model", embedModel, "chat_model", cfg.Providers.ChatModel)
	} else {
		logger.Info("app: no API key configured, semantic features disabled")
	}

	engineCfg := engineConfig(cfg)
	engineCfg.EmbedModel = embedModel
	engine := memory.NewEngine(engineCfg, st, embedder, summarizer, extractor, logger)

	sweeps, err := memory.NewSweepScheduler(engine, memory.SweepSchedule{
		Extraction: cfg.Sweeps.Extraction,
		Compaction: cfg.Sweeps.Compaction,
		Deletion:   cfg.Sweeps.Deletion,
	}, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &App{
		cfg:    cfg,
		logger: logger,
		store:  st,
		engine: engine,
		sweeps: sweeps,
		stop:   make(chan struct{}),
	}, nil
}

// Engine exposes the memory engine to embedding callers (API layers, tests).
func (a *App) Engine() *memory.Engine { return a.engine }

// Run starts the sweep scheduler and blocks until SIGINT/SIGTERM or Stop.
func (a *App) Run() error {
	a.sweeps.Start()
	a.logger.Info("app: continuum started", "db", a.cfg.DatabasePath)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	heartbeat := time.NewTicker(15 * time.Minute)
	defer heartbeat.Stop()

	for {
		select {
		case s := <-sig:
			a.logger.Info("app: signal received, shutting down", "signal", s.String())
			return nil
		case <-a.stop:
			return nil
		case <-heartbeat.C:
			a.logHeartbeat()
		}
	}
}

// logHeartbeat emits a periodic liveness line with coarse engine state.
func (a *App) logHeartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ids, err := a.engine.Archive().ConversationIDs(ctx)
	if err != nil {
		a.logger.Warn("app: heartbeat stats unavailable", "error", err)
		return
	}
	a.logger.Info("app: heartbeat", "conversations", len(ids))
}

// Stop shuts the service down: scheduler first, then in-flight background
// passes, then the store.
func (a *App) Stop() {
	select {
	case <-a.stop:
		return
	default:
		close(a.stop)
	}

	a.sweeps.Stop()
	a.engine.Wait()
	if err := a.store.Close(); err != nil {
		a.logger.Error("app: store close failed", "error", err)
	}
	a.logger.Info("app: stopped")
}

func buildLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// engineConfig maps the file/env configuration onto component configs,
// leaving zeroes for the engine defaults to fill.
func engineConfig(cfg config.Config) memory.EngineConfig {
	ec := memory.DefaultEngineConfig()
	ec.Buffer = memory.BufferConfig{
		MaxTokens:           cfg.Buffer.MaxTokens,
		MaxMessages:         cfg.Buffer.MaxMessages,
		TopicShiftThreshold: cfg.Buffer.TopicShiftThreshold,
		IdleGap:             cfg.Buffer.IdleGap,
		MinMessages:         cfg.Buffer.MinMessages,
	}
	ec.Chunker = memory.ChunkerConfig{
		MinTokens:      cfg.Chunking.MinTokens,
		MaxTokens:      cfg.Chunking.MaxTokens,
		MinMessages:    cfg.Chunking.MinMessages,
		MaxMessages:    cfg.Chunking.MaxMessages,
		OverlapMinFrac: cfg.Chunking.OverlapMin,
		OverlapMaxFrac: cfg.Chunking.OverlapMax,
	}
	ec.Assembler = memory.AssemblerConfig{
		MinBudget:       cfg.Assembly.MinBudget,
		SimilarityFloor: cfg.Assembly.SimilarityFloor,
		TopK:            cfg.Assembly.TopK,
	}
	ec.Compaction = memory.CompactionConfig{
		MaxLiveChunks: cfg.Retention.MaxLiveChunks,
		MaxAge:        cfg.Retention.CompactAfter,
		ColdAfter:     cfg.Retention.ColdAfter,
		DeleteAfter:   cfg.Retention.DeleteAfter,
	}
	return ec
}
