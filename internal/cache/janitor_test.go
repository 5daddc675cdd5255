package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flipview/internal/store"
)

func TestJanitor_Sweep(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(t)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	entries := map[string]time.Duration{
		"expired-long-ago":  48 * time.Hour,
		"expired":           6*time.Hour + time.Minute,
		"just-inside":       6*time.Hour - time.Minute,
		"fresh":             time.Minute,
		"other-session-old": 7 * time.Hour,
	}
	for key, age := range entries {
		session := "s1"
		if key == "other-session-old" {
			session = "s2"
		}
		require.NoError(t, st.Put(ctx, &store.Entry{
			Key:       key,
			Pages:     []byte("[]"),
			SessionID: session,
			Timestamp: now.Add(-age),
		}))
	}

	j := NewJanitor(st, 6*time.Hour, zap.NewNop())
	j.now = func() time.Time { return now }

	removed, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	for _, key := range []string{"expired-long-ago", "expired", "other-session-old"} {
		_, err := st.Get(ctx, key)
		assert.True(t, store.IsNotFound(err), "%s should be gone", key)
	}
	for _, key := range []string{"just-inside", "fresh"} {
		_, err := st.Get(ctx, key)
		assert.NoError(t, err, "%s should survive", key)
	}
}

func TestJanitor_SweepOnUnavailableStore(t *testing.T) {
	j := NewJanitor(store.NewNoopStore(), 0, zap.NewNop())

	removed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}
