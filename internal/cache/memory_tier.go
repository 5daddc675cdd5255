package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const DefaultMemoryCapacity = 10

// MemoryTier holds decoded page batches in process memory. Eviction is
// strictly by insertion order: reads go through Peek/Contains so they never
// promote an entry.
type MemoryTier struct {
	items *lru.Cache[string, []PageImage]
}

func NewMemoryTier(capacity int, logger *zap.Logger) (*MemoryTier, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("memory tier capacity must be positive, got %d", capacity)
	}
	items, err := lru.NewWithEvict(capacity, func(key string, pages []PageImage) {
		logger.Debug("Memory tier evicted entry", zap.String("key", key), zap.Int("pages", len(pages)))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tier: %w", err)
	}
	return &MemoryTier{items: items}, nil
}

func (m *MemoryTier) Get(key string) ([]PageImage, bool) {
	return m.items.Peek(key)
}

// Set stores pages, evicting the oldest-inserted entry when full. Setting an
// existing key counts as a fresh insertion.
func (m *MemoryTier) Set(key string, pages []PageImage) {
	m.items.Add(key, pages)
}

func (m *MemoryTier) Has(key string) bool {
	return m.items.Contains(key)
}

func (m *MemoryTier) Clear() {
	m.items.Purge()
}

func (m *MemoryTier) Len() int {
	return m.items.Len()
}
