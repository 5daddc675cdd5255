package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"flipview/internal/store"
)

const (
	DefaultPersistentCapacity   = 50
	DefaultCompressionThreshold = 50000
	DefaultCompressionRatio     = 0.8
)

type PersistentConfig struct {
	Capacity             int
	CompressionThreshold int     // JSON bytes above which compression is attempted
	CompressionRatio     float64 // compressed size must be below ratio*original to be kept
	SessionID            string
}

func (c PersistentConfig) withDefaults() PersistentConfig {
	if c.Capacity <= 0 {
		c.Capacity = DefaultPersistentCapacity
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = DefaultCompressionThreshold
	}
	if c.CompressionRatio <= 0 || c.CompressionRatio > 1 {
		c.CompressionRatio = DefaultCompressionRatio
	}
	return c
}

type pageCodec interface {
	compressRaw(raw []byte) ([]byte, error)
	Decompress(payload []byte) ([]PageImage, error)
}

// PersistentTier stores page batches in a durable store, compressing them
// when it pays off. A tier whose store is unusable is degraded: reads miss
// and writes are dropped, nothing is returned to the caller as an error.
type PersistentTier struct {
	mu       sync.Mutex // serialises writes so the capacity bound holds
	store    store.Store
	codec    pageCodec
	cfg      PersistentConfig
	degraded bool
	logger   *zap.Logger
	now      func() time.Time
}

func NewPersistentTier(ctx context.Context, st store.Store, codec *Codec, cfg PersistentConfig, logger *zap.Logger) *PersistentTier {
	t := &PersistentTier{
		store:  st,
		codec:  codec,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}

	if st == nil {
		t.degraded = true
		logger.Warn("Persistent tier has no store, running memory-only")
		return t
	}
	if err := st.Ping(ctx); err != nil {
		t.degraded = true
		logger.Warn("Persistent tier unavailable, running memory-only", zap.Error(err))
	}
	return t
}

func (t *PersistentTier) Degraded() bool {
	return t.degraded
}

func (t *PersistentTier) Get(ctx context.Context, key string) ([]PageImage, bool) {
	if t.degraded {
		return nil, false
	}

	entry, err := t.store.Get(ctx, key)
	if err != nil {
		if !store.IsNotFound(err) {
			t.logger.Warn("Persistent tier read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	pages, ok := t.decodeEntry(entry)
	if !ok {
		// Unreadable entries are dropped so Has stops reporting them
		if err := t.store.Delete(ctx, key); err != nil {
			t.logger.Warn("Failed to drop unreadable entry", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return pages, true
}

func (t *PersistentTier) decodeEntry(entry *store.Entry) ([]PageImage, bool) {
	if entry.Compressed {
		pages, err := t.codec.Decompress(entry.CompressedPayload)
		if err == nil {
			return pages, true
		}
		t.logger.Warn("Failed to decompress entry, falling back to raw pages",
			zap.String("key", entry.Key), zap.Error(err))
	}

	if len(entry.Pages) == 0 {
		return nil, false
	}
	pages, err := decodePages(entry.Pages)
	if err != nil {
		t.logger.Warn("Failed to decode entry", zap.String("key", entry.Key), zap.Error(err))
		return nil, false
	}
	return pages, true
}

// Set writes pages under key stamped with the current time.
func (t *PersistentTier) Set(ctx context.Context, key string, pages []PageImage) {
	t.SetAt(ctx, key, pages, t.now())
}

// SetAt writes pages under key stamped with at, evicting the oldest entries
// first when the tier is full. A write older than the stored entry for the
// same key is dropped. Failures are logged, never returned.
func (t *PersistentTier) SetAt(ctx context.Context, key string, pages []PageImage, at time.Time) {
	if t.degraded {
		return
	}

	entry, err := t.buildEntry(key, pages, at)
	if err != nil {
		t.logger.Warn("Failed to encode pages for persistent tier", zap.String("key", key), zap.Error(err))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.makeRoom(ctx, entry) {
		return
	}

	if err := t.store.Put(ctx, entry); err != nil {
		t.logger.Warn("Persistent tier write failed", zap.String("key", key), zap.Error(err))
		return
	}
	t.logger.Debug("Persistent tier stored entry",
		zap.String("key", key),
		zap.Int("pages", len(pages)),
		zap.Bool("compressed", entry.Compressed),
		zap.Int64("size_bytes", entry.SizeBytes),
	)
}

func (t *PersistentTier) buildEntry(key string, pages []PageImage, at time.Time) (*store.Entry, error) {
	raw, err := encodePages(pages)
	if err != nil {
		return nil, err
	}

	entry := &store.Entry{
		Key:       key,
		SessionID: t.cfg.SessionID,
		Timestamp: at,
	}

	if len(raw) > t.cfg.CompressionThreshold {
		payload, err := t.codec.compressRaw(raw)
		switch {
		case err != nil:
			t.logger.Warn("Compression failed, storing uncompressed", zap.String("key", key), zap.Error(err))
		case float64(len(payload)) < t.cfg.CompressionRatio*float64(len(raw)):
			entry.Compressed = true
			entry.CompressedPayload = payload
			entry.SizeBytes = int64(len(payload))
			return entry, nil
		}
	}

	entry.Pages = raw
	entry.SizeBytes = int64(len(raw))
	return entry, nil
}

// makeRoom deletes oldest-timestamp entries until one slot is free. A key
// that is already stored is replaced in place and needs no room. It reports
// false when entry is older than the stored one and must not be written.
func (t *PersistentTier) makeRoom(ctx context.Context, entry *store.Entry) bool {
	metas, err := t.store.ScanByTimestamp(ctx)
	if err != nil {
		t.logger.Warn("Failed to scan persistent tier", zap.Error(err))
		return true
	}

	for _, m := range metas {
		if m.Key != entry.Key {
			continue
		}
		if m.Timestamp.After(entry.Timestamp) {
			t.logger.Debug("Dropped stale persistent write",
				zap.String("key", entry.Key),
				zap.Time("stored", m.Timestamp),
				zap.Time("write", entry.Timestamp),
			)
			return false
		}
		return true
	}

	for len(metas) >= t.cfg.Capacity {
		oldest := metas[0]
		if err := t.store.Delete(ctx, oldest.Key); err != nil {
			t.logger.Warn("Failed to evict entry", zap.String("key", oldest.Key), zap.Error(err))
			return true
		}
		t.logger.Debug("Persistent tier evicted entry",
			zap.String("key", oldest.Key),
			zap.Time("timestamp", oldest.Timestamp),
		)
		metas = metas[1:]
	}
	return true
}

// Has checks for key without loading its payload.
func (t *PersistentTier) Has(ctx context.Context, key string) bool {
	if t.degraded {
		return false
	}
	ok, err := t.store.Exists(ctx, key)
	if err != nil {
		t.logger.Warn("Persistent tier lookup failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (t *PersistentTier) Clear(ctx context.Context) error {
	if t.degraded {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Clear(ctx)
}

func (t *PersistentTier) Count(ctx context.Context) int {
	if t.degraded {
		return 0
	}
	n, err := t.store.Count(ctx)
	if err != nil {
		t.logger.Warn("Failed to count persistent entries", zap.Error(err))
		return 0
	}
	return n
}
