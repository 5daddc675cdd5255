package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRedisStore_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s := NewRedisStoreClient(rdb, "test", zap.NewNop())
	defer s.Close()

	runStoreContract(t, s)
}

func TestRedisStore_PingFailsWhenServerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.ErrorIs(t, s.Ping(context.Background()), ErrUnavailable)
}
