package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, 10, cfg.MemoryEntries)
	assert.Equal(t, 50, cfg.PersistentEntries)
	assert.Equal(t, 50000, cfg.CompressionThreshold)
	assert.InDelta(t, 0.8, cfg.CompressionRatio, 1e-9)
	assert.Equal(t, 6*time.Hour, cfg.SessionExpiry)
	assert.Equal(t, 30*time.Second, cfg.PersistTimeout)
	assert.Equal(t, 5*time.Minute, cfg.RenderTimeout)
	assert.Equal(t, "file", cfg.StoreType)
	assert.Equal(t, filepath.Join("/data", "cache"), cfg.StoreFileDir)
	assert.True(t, cfg.IsUploadPublic())

	opts := cfg.RenderOptions()
	assert.InDelta(t, 1.5, opts.Scale, 1e-9)
	assert.InDelta(t, 0.8, opts.Quality, 1e-9)
	assert.Zero(t, opts.ThumbnailScale)
	assert.Zero(t, opts.MaxPages)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATA_DIR", "/srv/docs")
	t.Setenv("MEMORY_ENTRIES", "3")
	t.Setenv("SESSION_EXPIRY", "90m")
	t.Setenv("STORE_TYPE", "redis")
	t.Setenv("REDIS_ADDR", "cache:6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("THUMBNAIL_SCALE", "0.2")
	t.Setenv("UPLOAD_TOKEN", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3, cfg.MemoryEntries)
	assert.Equal(t, 90*time.Minute, cfg.SessionExpiry)
	assert.Equal(t, filepath.Join("/srv/docs", "cache"), cfg.StoreFileDir)
	assert.False(t, cfg.IsUploadPublic())

	sc := cfg.StoreConfig()
	assert.Equal(t, "redis", sc.Type)
	assert.Equal(t, "cache:6380", sc.Redis.Addr)
	assert.Equal(t, 2, sc.Redis.DB)
	assert.True(t, sc.S3.UseSSL)

	cc := cfg.CacheConfig()
	assert.Equal(t, 3, cc.MemoryCapacity)
	assert.Equal(t, 90*time.Minute, cc.SessionExpiry)

	assert.InDelta(t, 0.2, cfg.RenderOptions().ThumbnailScale, 1e-9)
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := &Config{UploadToken: "s3cret", DatabaseURL: "postgres://u:p@db/x"}
	out := cfg.String()
	assert.NotContains(t, out, "s3cret")
	assert.NotContains(t, out, "u:p@db")
	assert.Contains(t, out, "RedisPassword: (empty)")
}
