package cache

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"flipview/internal/store"
)

const (
	DefaultPersistTimeout = 30 * time.Second
	DefaultRenderTimeout  = 5 * time.Minute
)

// ErrClosed is returned by RenderWithCache after Close.
var ErrClosed = errors.New(errors.CodeUnavailable, "render cache is closed")

type Config struct {
	MemoryCapacity       int
	PersistentCapacity   int
	CompressionThreshold int
	CompressionRatio     float64
	SessionExpiry        time.Duration
	PersistTimeout       time.Duration // budget for one background persistent write
	RenderTimeout        time.Duration // budget for one shared render
	SessionID            string        // generated when empty
}

func DefaultConfig() Config {
	return Config{
		MemoryCapacity:       DefaultMemoryCapacity,
		PersistentCapacity:   DefaultPersistentCapacity,
		CompressionThreshold: DefaultCompressionThreshold,
		CompressionRatio:     DefaultCompressionRatio,
		SessionExpiry:        DefaultSessionExpiry,
		PersistTimeout:       DefaultPersistTimeout,
		RenderTimeout:        DefaultRenderTimeout,
	}
}

type Stats struct {
	MemoryCount     int  `json:"memoryCount"`
	PersistentCount int  `json:"persistentCount"`
	Total           int  `json:"total"`
	Degraded        bool `json:"degraded"`
}

// Orchestrator is the entry point to the render cache. Lookups go memory,
// then persistent store, then the renderer. Construct one per process and
// share it.
//
// Page batches handed out are shallow copies: the slice is the caller's, the
// image bytes are shared with the cache and must not be modified.
type Orchestrator struct {
	memory         *MemoryTier
	persistent     *PersistentTier
	janitor        *Janitor
	codec          *Codec
	renderer       Renderer
	inflight       singleflight.Group
	writes         *writeQueue
	persistTimeout time.Duration
	renderTimeout  time.Duration
	sessionID      string
	logger         *zap.Logger

	// renders started by flights; cancelled and awaited by Close
	renderCtx    context.Context
	cancelRender context.CancelFunc
	mu           sync.Mutex
	closed       bool
	renders      sync.WaitGroup
}

// New builds the orchestrator and starts the one-off expiry sweep in the
// background. A nil or unreachable store leaves the cache memory-only.
func New(ctx context.Context, renderer Renderer, st store.Store, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if renderer == nil {
		return nil, fmt.Errorf("renderer cannot be nil")
	}
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = DefaultMemoryCapacity
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = DefaultRenderTimeout
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()
	}

	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	memory, err := NewMemoryTier(cfg.MemoryCapacity, logger)
	if err != nil {
		codec.Close()
		return nil, err
	}

	persistent := NewPersistentTier(ctx, st, codec, PersistentConfig{
		Capacity:             cfg.PersistentCapacity,
		CompressionThreshold: cfg.CompressionThreshold,
		CompressionRatio:     cfg.CompressionRatio,
		SessionID:            cfg.SessionID,
	}, logger)

	renderCtx, cancelRender := context.WithCancel(context.Background())
	o := &Orchestrator{
		memory:         memory,
		persistent:     persistent,
		codec:          codec,
		renderer:       renderer,
		writes:         newWriteQueue(),
		persistTimeout: cfg.PersistTimeout,
		renderTimeout:  cfg.RenderTimeout,
		sessionID:      cfg.SessionID,
		logger:         logger,
		renderCtx:      renderCtx,
		cancelRender:   cancelRender,
	}

	if !persistent.Degraded() {
		o.janitor = NewJanitor(st, cfg.SessionExpiry, logger)
		o.writes.submit(o.sweepOnce)
	}

	logger.Info("Render cache ready",
		zap.String("session_id", cfg.SessionID),
		zap.Int("memory_capacity", cfg.MemoryCapacity),
		zap.Bool("persistent", !persistent.Degraded()),
	)
	return o, nil
}

func (o *Orchestrator) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), o.persistTimeout)
	defer cancel()

	removed, err := o.janitor.Sweep(ctx)
	if err != nil {
		o.logger.Warn("Session sweep failed", zap.Error(err))
		return
	}
	o.logger.Info("Session sweep completed", zap.Int("removed", removed))
}

func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// Janitor returns the expiry sweeper, nil when the cache is memory-only.
func (o *Orchestrator) Janitor() *Janitor {
	return o.janitor
}

// Get looks in the memory tier only. It never performs I/O.
func (o *Orchestrator) Get(key string) ([]PageImage, bool) {
	pages, ok := o.memory.Get(key)
	return slices.Clone(pages), ok
}

// GetContext looks in memory, then in the persistent tier. A persistent hit
// is copied into memory so the next Get finds it.
func (o *Orchestrator) GetContext(ctx context.Context, key string) ([]PageImage, bool) {
	if pages, ok := o.memory.Get(key); ok {
		return slices.Clone(pages), true
	}

	pages, ok := o.persistent.Get(ctx, key)
	if !ok {
		return nil, false
	}
	o.memory.Set(key, pages)
	return slices.Clone(pages), true
}

// Set writes the memory tier before returning and queues the persistent
// write. Queued writes run one at a time in call order, stamped with the
// time Set was called, so the last Set for a key wins in both tiers.
func (o *Orchestrator) Set(key string, pages []PageImage) {
	pages = slices.Clone(pages)
	at := time.Now()
	o.memory.Set(key, pages)

	if o.persistent.Degraded() {
		return
	}
	queued := o.writes.submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.persistTimeout)
		defer cancel()
		o.persistent.SetAt(ctx, key, pages, at)
	})
	if !queued {
		o.logger.Debug("Render cache closed, persistent write dropped", zap.String("key", key))
	}
}

func (o *Orchestrator) Has(key string) bool {
	return o.memory.Has(key)
}

func (o *Orchestrator) HasContext(ctx context.Context, key string) bool {
	return o.memory.Has(key) || o.persistent.Has(ctx, key)
}

// Clear empties both tiers. The persistent clear is queued behind every
// write already made, so nothing set before Clear survives it.
func (o *Orchestrator) Clear(ctx context.Context) error {
	o.memory.Clear()

	result := make(chan error, 1)
	queued := o.writes.submit(func() {
		result <- o.persistent.Clear(ctx)
	})
	if !queued {
		return ErrClosed
	}

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("failed to clear persistent tier: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) Stats(ctx context.Context) Stats {
	memoryCount := o.memory.Len()
	persistentCount := o.persistent.Count(ctx)
	return Stats{
		MemoryCount:     memoryCount,
		PersistentCount: persistentCount,
		Total:           memoryCount + persistentCount,
		Degraded:        o.persistent.Degraded(),
	}
}

// RenderWithCache returns the pages of documentID rendered with opts,
// rendering only on a miss in both tiers. Concurrent misses for the same key
// share one render; only the caller that starts it receives progress. The
// shared render is not tied to any caller's context: a caller that gives up
// gets its own ctx error while the others still receive the result.
// Renderer errors are returned as is and nothing is cached for them.
func (o *Orchestrator) RenderWithCache(ctx context.Context, documentID string, opts RenderOptions) ([]PageImage, error) {
	opts = opts.WithDefaults()
	key := GenerateKey(documentID, opts)

	if pages, ok := o.GetContext(ctx, key); ok {
		o.logger.Debug("Render cache hit", zap.String("document_id", documentID), zap.String("key", key))
		return pages, nil
	}

	ch := o.inflight.DoChan(key, func() (interface{}, error) {
		return o.render(documentID, key, opts)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			o.logger.Debug("Joined in-flight render", zap.String("document_id", documentID), zap.String("key", key))
		}
		return slices.Clone(res.Val.([]PageImage)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) render(documentID, key string, opts RenderOptions) ([]PageImage, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.renders.Add(1)
	o.mu.Unlock()
	defer o.renders.Done()

	// A render that finished between our miss and this flight is reused
	if pages, ok := o.memory.Get(key); ok {
		return pages, nil
	}

	ctx, cancel := context.WithTimeout(o.renderCtx, o.renderTimeout)
	defer cancel()

	start := time.Now()
	pages, err := o.renderer.Render(ctx, documentID, opts)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Document rendered",
		zap.String("document_id", documentID),
		zap.String("key", key),
		zap.Int("pages", len(pages)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	o.Set(key, pages)
	return pages, nil
}

// Wait blocks until every persistent write queued so far and the startup
// sweep are done.
func (o *Orchestrator) Wait() {
	o.writes.flush()
}

// Close cancels renders in progress and waits for them, drains queued
// writes and releases the codec. The store is owned by the caller.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.cancelRender()
	o.renders.Wait()
	o.writes.close()
	o.codec.Close()
}
