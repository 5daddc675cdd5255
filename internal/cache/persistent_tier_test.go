package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flipview/internal/store"
)

type failingCodec struct {
	*Codec
}

func (f failingCodec) compressRaw(raw []byte) ([]byte, error) {
	return nil, errors.New("encoder exploded")
}

func newTier(t *testing.T, st store.Store, cfg PersistentConfig) *PersistentTier {
	t.Helper()
	codec, err := NewCodec()
	require.NoError(t, err)
	t.Cleanup(codec.Close)
	return NewPersistentTier(context.Background(), st, codec, cfg, zap.NewNop())
}

func compressiblePages() []PageImage {
	return []PageImage{{PageNumber: 1, ImageData: bytes.Repeat([]byte("a"), 60000), Width: 10, Height: 10}}
}

func randomPages(seed int64) []PageImage {
	data := make([]byte, 60000)
	rand.New(rand.NewSource(seed)).Read(data)
	return []PageImage{{PageNumber: 1, ImageData: data, Width: 10, Height: 10}}
}

func TestPersistentTier_SetGet(t *testing.T) {
	ctx := context.Background()
	tier := newTier(t, newMemStore(t), PersistentConfig{SessionID: "s1"})
	require.False(t, tier.Degraded())

	_, ok := tier.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, tier.Has(ctx, "k"))

	pages := makePages(4)
	tier.Set(ctx, "k", pages)

	got, ok := tier.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, pages, got)
	assert.True(t, tier.Has(ctx, "k"))
	assert.Equal(t, 1, tier.Count(ctx))
}

func TestPersistentTier_EntryBookkeeping(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(t)
	tier := newTier(t, st, PersistentConfig{SessionID: "session-abc"})
	fixed := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	tier.now = func() time.Time { return fixed }

	tier.Set(ctx, "k", makePages(2))

	entry, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "session-abc", entry.SessionID)
	assert.True(t, fixed.Equal(entry.Timestamp))
	assert.Equal(t, int64(len(entry.Pages)), entry.SizeBytes)
	assert.False(t, entry.Compressed)
}

func TestPersistentTier_CompressionGate(t *testing.T) {
	ctx := context.Background()

	t.Run("small batches stay raw", func(t *testing.T) {
		st := newMemStore(t)
		tier := newTier(t, st, PersistentConfig{})
		tier.Set(ctx, "small", makePages(2))

		entry, err := st.Get(ctx, "small")
		require.NoError(t, err)
		assert.False(t, entry.Compressed)
		assert.Empty(t, entry.CompressedPayload)
	})

	t.Run("compressible batches are compressed", func(t *testing.T) {
		st := newMemStore(t)
		tier := newTier(t, st, PersistentConfig{})
		pages := compressiblePages()
		tier.Set(ctx, "big", pages)

		entry, err := st.Get(ctx, "big")
		require.NoError(t, err)
		require.True(t, entry.Compressed)
		assert.Empty(t, entry.Pages)
		assert.Equal(t, int64(len(entry.CompressedPayload)), entry.SizeBytes)

		raw, err := encodePages(pages)
		require.NoError(t, err)
		assert.Less(t, float64(entry.SizeBytes), 0.8*float64(len(raw)))

		got, ok := tier.Get(ctx, "big")
		require.True(t, ok)
		assert.Equal(t, pages, got)
	})

	t.Run("insufficient shrink stores raw", func(t *testing.T) {
		st := newMemStore(t)
		// Random bytes in base64 can't get below half their size
		tier := newTier(t, st, PersistentConfig{CompressionRatio: 0.5})
		pages := randomPages(7)
		tier.Set(ctx, "noisy", pages)

		entry, err := st.Get(ctx, "noisy")
		require.NoError(t, err)
		assert.False(t, entry.Compressed)

		got, ok := tier.Get(ctx, "noisy")
		require.True(t, ok)
		assert.Equal(t, pages, got)
	})

	t.Run("compression failure stores raw", func(t *testing.T) {
		st := newMemStore(t)
		tier := newTier(t, st, PersistentConfig{})
		codec, err := NewCodec()
		require.NoError(t, err)
		defer codec.Close()
		tier.codec = failingCodec{codec}

		pages := compressiblePages()
		tier.Set(ctx, "k", pages)

		entry, err := st.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, entry.Compressed)

		got, ok := tier.Get(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, pages, got)
	})
}

func TestPersistentTier_DecompressionFailure(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(t)
	tier := newTier(t, st, PersistentConfig{})

	raw, err := encodePages(makePages(2))
	require.NoError(t, err)

	require.NoError(t, st.Put(ctx, &store.Entry{
		Key:               "with-fallback",
		Pages:             raw,
		Compressed:        true,
		CompressedPayload: []byte("corrupt"),
		Timestamp:         time.Now(),
	}))
	require.NoError(t, st.Put(ctx, &store.Entry{
		Key:               "no-fallback",
		Compressed:        true,
		CompressedPayload: []byte("corrupt"),
		Timestamp:         time.Now(),
	}))

	got, ok := tier.Get(ctx, "with-fallback")
	require.True(t, ok)
	assert.Equal(t, makePages(2), got)

	assert.True(t, tier.Has(ctx, "no-fallback"))
	_, ok = tier.Get(ctx, "no-fallback")
	assert.False(t, ok)
	assert.False(t, tier.Has(ctx, "no-fallback"), "unreadable entry is dropped on read")
}

// getCountingStore records how often payloads are loaded.
type getCountingStore struct {
	store.Store
	gets int
}

func (s *getCountingStore) Get(ctx context.Context, key string) (*store.Entry, error) {
	s.gets++
	return s.Store.Get(ctx, key)
}

func TestPersistentTier_HasDoesNotLoadPayload(t *testing.T) {
	ctx := context.Background()
	st := &getCountingStore{Store: newMemStore(t)}
	tier := newTier(t, st, PersistentConfig{})

	tier.Set(ctx, "k", makePages(3))
	assert.True(t, tier.Has(ctx, "k"))
	assert.False(t, tier.Has(ctx, "absent"))
	assert.Zero(t, st.gets)
}

func TestPersistentTier_OlderWriteDoesNotReplaceNewer(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(t)
	tier := newTier(t, st, PersistentConfig{})
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	tier.SetAt(ctx, "k", makePages(3), base.Add(time.Second))
	tier.SetAt(ctx, "k", makePages(1), base)

	got, ok := tier.Get(ctx, "k")
	require.True(t, ok)
	assert.Len(t, got, 3)

	entry, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, base.Add(time.Second).Equal(entry.Timestamp))
}

func TestPersistentTier_CapacityEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(t)
	tier := newTier(t, st, PersistentConfig{Capacity: 3})
	tier.now = stepClock(time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), time.Second)

	var evicted []string
	for i := 0; i < 6; i++ {
		before, err := st.ScanByTimestamp(ctx)
		require.NoError(t, err)

		tier.Set(ctx, fmt.Sprintf("k%d", i), makePages(1))

		after, err := st.ScanByTimestamp(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(after), 3)

		present := map[string]bool{}
		for _, m := range after {
			present[m.Key] = true
		}
		for _, m := range before {
			if !present[m.Key] {
				evicted = append(evicted, m.Key)
			}
		}
	}

	assert.Equal(t, []string{"k0", "k1", "k2"}, evicted)
	assert.Equal(t, 3, tier.Count(ctx))
}

func TestPersistentTier_EvictionFollowsTimestampNotWriteOrder(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(t)
	base := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

	for key, offset := range map[string]time.Duration{"middle": 2 * time.Minute, "oldest": time.Minute, "newest": 3 * time.Minute} {
		require.NoError(t, st.Put(ctx, &store.Entry{Key: key, Pages: []byte("[]"), Timestamp: base.Add(offset)}))
	}

	tier := newTier(t, st, PersistentConfig{Capacity: 3})
	tier.now = func() time.Time { return base.Add(time.Hour) }
	tier.Set(ctx, "fresh", makePages(1))

	assert.False(t, tier.Has(ctx, "oldest"))
	assert.True(t, tier.Has(ctx, "middle"))
	assert.True(t, tier.Has(ctx, "newest"))
	assert.True(t, tier.Has(ctx, "fresh"))
}

func TestPersistentTier_ReplaceDoesNotEvict(t *testing.T) {
	ctx := context.Background()
	tier := newTier(t, newMemStore(t), PersistentConfig{Capacity: 2})
	tier.now = stepClock(time.Now(), time.Second)

	tier.Set(ctx, "a", makePages(1))
	tier.Set(ctx, "b", makePages(1))
	tier.Set(ctx, "a", makePages(3))

	assert.True(t, tier.Has(ctx, "b"))
	got, ok := tier.Get(ctx, "a")
	require.True(t, ok)
	assert.Len(t, got, 3)
}

func TestPersistentTier_Degraded(t *testing.T) {
	ctx := context.Background()

	for name, st := range map[string]store.Store{"noop": store.NewNoopStore(), "nil": nil} {
		t.Run(name, func(t *testing.T) {
			tier := newTier(t, st, PersistentConfig{})
			require.True(t, tier.Degraded())

			tier.Set(ctx, "k", makePages(2))
			_, ok := tier.Get(ctx, "k")
			assert.False(t, ok)
			assert.False(t, tier.Has(ctx, "k"))
			assert.Zero(t, tier.Count(ctx))
			assert.NoError(t, tier.Clear(ctx))
		})
	}
}

func TestPersistentTier_Clear(t *testing.T) {
	ctx := context.Background()
	tier := newTier(t, newMemStore(t), PersistentConfig{})

	tier.Set(ctx, "a", makePages(1))
	tier.Set(ctx, "b", makePages(1))
	require.NoError(t, tier.Clear(ctx))

	assert.Zero(t, tier.Count(ctx))
}
