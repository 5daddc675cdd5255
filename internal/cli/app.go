package cli

import (
	"context"
	"fmt"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"flipview/internal/cache"
	"flipview/internal/config"
	"flipview/internal/document_list"
	"flipview/internal/logger"
	"flipview/internal/page_renderer"
	"flipview/internal/store"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    store.Store
	registry *document_list.Registry
	cache    *cache.Orchestrator
	vips     bool
}

type appOptions struct {
	// server logs JSON to stdout, commands log to stderr
	server bool
	// vips is needed only by commands that render or scan documents
	vips bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	var log *zap.Logger
	if opts.server {
		log, err = logger.New(cfg.LogLevel)
	} else {
		log, err = logger.NewCLI(cfg.LogLevel)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}

	if opts.vips {
		startVips(cfg, log)
		a.vips = true
	}

	st, err := store.New(ctx, cfg.StoreConfig(), log)
	if err != nil {
		log.Warn("Persistent store unavailable, continuing memory-only", zap.String("type", cfg.StoreType), zap.Error(err))
		st = store.NewNoopStore()
	}
	a.store = st

	a.registry = document_list.New(cfg.DataDir, log)
	converter := page_renderer.NewConverter(page_renderer.NewVipsBackend(a.registry, log), log)

	a.cache, err = cache.New(ctx, converter, st, cfg.CacheConfig(), log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize render cache: %w", err)
	}

	return a, nil
}

func (a *app) close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("Failed to close store", zap.Error(err))
		}
	}
	if a.vips {
		vips.Shutdown()
	}
	a.log.Sync()
}

func startVips(cfg *config.Config, log *zap.Logger) {
	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
	)
}
