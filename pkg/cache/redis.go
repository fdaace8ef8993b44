package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis using WATCH/MULTI for compare-and-swap.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects and pings the server.
func NewRedisStore(opts ...RedisOption) (*RedisStore, error) {
	cfg := defaultRedisConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&cfg.Options)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Options.Addr, err)
	}

	return &RedisStore{client: client, prefix: cfg.Prefix}, nil
}

// Client returns underlying redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string, dest interface{}) (int64, error) {
	raw, err := s.client.Get(ctx, s.wrapKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return 0, fmt.Errorf("decode record %s: %w", key, err)
	}
	if err := json.Unmarshal(rec.Data, dest); err != nil {
		return 0, err
	}
	return rec.Version, nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, expected int64, value interface{}) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", key, err)
	}
	k := s.wrapKey(key)

	var next int64
	txf := func(tx *redis.Tx) error {
		cur, err := currentVersion(ctx, tx, k)
		if err != nil {
			return err
		}
		if cur != expected {
			return ErrVersionConflict
		}
		next = cur + 1
		rec, err := json.Marshal(record{Version: next, Data: data})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, rec, 0)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, k)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, ErrVersionConflict
	}
	if err != nil {
		return 0, err
	}
	return next, nil
}

func currentVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return 0, fmt.Errorf("decode record %s: %w", key, err)
	}
	return rec.Version, nil
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, scanPattern(s.wrapKey(prefix)), 500).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, s.unwrapKey(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Unlink(ctx, s.wrapKeys(keys...)...).Err()
}

func (s *RedisStore) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.wrapKey("lock:"+key), "locked", ttl).Result()
}

func (s *RedisStore) Unlock(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.wrapKey("lock:"+key)).Err()
}

func (s *RedisStore) wrapKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) unwrapKey(key string) string {
	return strings.TrimPrefix(key, s.prefix)
}

func (s *RedisStore) wrapKeys(keys ...string) []string {
	wrapped := make([]string, len(keys))
	for i, key := range keys {
		wrapped[i] = s.wrapKey(key)
	}
	return wrapped
}
