package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisConfig struct {
	Addr     string
	DB       int
	Password string
	Prefix   string
}

// RedisStore keeps each entry as a JSON string and indexes keys by timestamp
// in a sorted set, so scans never touch the payloads.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisStore(cfg RedisConfig, logger *zap.Logger) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return NewRedisStoreClient(rdb, cfg.Prefix, logger)
}

func NewRedisStoreClient(rdb *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "flipview"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, logger: logger}
}

func (s *RedisStore) entryKey(key string) string {
	return s.prefix + ":entry:" + key
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":index"
}

func (s *RedisStore) Put(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode entry")
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(entry.Key), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(entry.Timestamp.UnixMilli()),
			Member: entry.Key,
		})
		return nil
	})
	if err != nil {
		s.logger.Debug("redis put failed", zap.String("key", entry.Key), zap.Error(err))
		return errors.Wrap(err, errors.CodeNetwork, "failed to store entry")
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.rdb.Get(ctx, s.entryKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "failed to load entry")
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to decode entry")
	}
	return &entry, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.entryKey(key)).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.CodeNetwork, "failed to check entry")
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.entryKey(key))
		pipe.ZRem(ctx, s.indexKey(), key)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeNetwork, "failed to delete entry")
	}
	return nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.rdb.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeNetwork, "failed to count entries")
	}
	return int(n), nil
}

func (s *RedisStore) ScanByTimestamp(ctx context.Context) ([]Meta, error) {
	members, err := s.rdb.ZRangeWithScores(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "failed to scan index")
	}

	metas := make([]Meta, 0, len(members))
	for _, z := range members {
		key, ok := z.Member.(string)
		if !ok {
			continue
		}
		metas = append(metas, Meta{
			Key:       key,
			Timestamp: time.UnixMilli(int64(z.Score)),
		})
	}
	return metas, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.rdb.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return errors.Wrap(err, errors.CodeNetwork, "failed to read index")
	}

	toDelete := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		toDelete = append(toDelete, s.entryKey(key))
	}
	toDelete = append(toDelete, s.indexKey())

	n, err := s.rdb.Del(ctx, toDelete...).Result()
	if err != nil {
		return errors.Wrap(err, errors.CodeNetwork, "failed to clear entries")
	}
	s.logger.Debug("redis store cleared", zap.Int64("deleted", n))
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(ErrUnavailable, errors.CodeUnavailable, err.Error())
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
