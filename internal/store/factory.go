package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type Config struct {
	Type        string
	FileDir     string
	Redis       RedisConfig
	S3          S3Config
	DatabaseURL string
}

// New creates a store instance based on the store type
func New(ctx context.Context, cfg Config, log *zap.Logger) (Store, error) {
	switch cfg.Type {
	case "file":
		log.Info("Using file store", zap.String("dir", cfg.FileDir))
		return NewFileStore(cfg.FileDir)
	case "redis":
		log.Info("Using redis store", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
		return NewRedisStore(cfg.Redis, log), nil
	case "s3":
		log.Info("Using s3 store", zap.String("endpoint", cfg.S3.Endpoint), zap.String("bucket", cfg.S3.Bucket))
		return NewS3Store(cfg.S3)
	case "postgres":
		log.Info("Using postgres store")
		return NewPostgresStore(ctx, cfg.DatabaseURL, log)
	case "disabled":
		log.Info("Persistent store disabled")
		return NewNoopStore(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s (supported: file, redis, s3, postgres, disabled)", cfg.Type)
	}
}
