package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"flipview/internal/cache"
	"flipview/internal/document_list"
	httphandlers "flipview/internal/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		a, err := newApp(ctx, appOptions{server: true, vips: true})
		if err != nil {
			return err
		}
		defer a.close()

		log := a.log
		cfg := a.cfg

		log.Info("Starting Flipview server",
			zap.Int("port", cfg.Port),
			zap.String("data_dir", cfg.DataDir),
			zap.String("store", cfg.StoreType),
			zap.String("session_id", a.cache.SessionID()),
		)

		if err := a.registry.Scan(); err != nil {
			log.Warn("Initial scan failed", zap.Error(err))
		}

		handlers := httphandlers.New(cfg, log, a.registry, a.cache)

		waitWarmup := func() {}
		if cfg.Warmup {
			waitWarmup = startWarmup(ctx, a.registry.GetDocuments(), cfg.WarmupWorkers, a.cache, cfg.RenderOptions(), log)
		}
		// Runs before a.close so warmup never renders into a closed cache
		defer func() {
			cancel()
			waitWarmup()
		}()

		server := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: handlers.Routes(),
		}

		serverErr := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()

		log.Info("Server started", zap.Int("port", cfg.Port))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case <-quit:
		case err := <-serverErr:
			return fmt.Errorf("server failed: %w", err)
		}

		log.Info("Shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}

		waitWarmup()
		log.Info("Server stopped")
		return nil
	},
}

type documentRenderer interface {
	RenderWithCache(ctx context.Context, documentID string, opts cache.RenderOptions) ([]cache.PageImage, error)
}

// startWarmup runs warmupDocuments in the background. The returned func
// blocks until it has returned.
func startWarmup(ctx context.Context, docs []document_list.DocumentInfo, workerLimit int, r documentRenderer, opts cache.RenderOptions, log *zap.Logger) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		warmupDocuments(ctx, docs, workerLimit, r, opts, log)
	}()
	return func() { <-done }
}

// warmupDocuments renders every document once with opts so the first viewer
// hits the cache. It returns how many documents rendered successfully.
func warmupDocuments(ctx context.Context, docs []document_list.DocumentInfo, workerLimit int, r documentRenderer, opts cache.RenderOptions, log *zap.Logger) int {
	if len(docs) == 0 {
		return 0
	}

	if workerLimit <= 0 {
		workerLimit = 1
	}

	log.Info("Starting warmup", zap.Int("documents", len(docs)), zap.Int("workers", workerLimit))

	var rendered atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit)

	for _, doc := range docs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			pages, err := r.RenderWithCache(gctx, doc.ID, opts)
			if err != nil {
				// One broken document must not stop the others
				log.Debug("Warmup render failed", zap.String("document_id", doc.ID), zap.Error(err))
				return nil
			}
			rendered.Add(1)
			log.Debug("Warmup rendered document", zap.String("document_id", doc.ID), zap.Int("pages", len(pages)))
			return nil
		})
	}

	g.Wait()
	log.Info("Warmup completed", zap.Int32("rendered", rendered.Load()), zap.Int("documents", len(docs)))
	return int(rendered.Load())
}
