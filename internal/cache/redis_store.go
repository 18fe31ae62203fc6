package cache

import (
	"context"
	"encoding/json"
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"labsync/pkg/types"
)

// RedisStore keeps the persistent tier in one redis hash
type RedisStore struct {
	client *backend.Client
	key    string
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithHashKey sets the redis key holding the cache hash
func WithHashKey(key string) RedisOption {
	return func(s *RedisStore) {
		if key != "" {
			s.key = key
		}
	}
}

// NewRedisStore connects to addr
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, key: "labsync:cache"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Load(ctx context.Context) (map[string]types.CacheRecord, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache hash: %w", err)
	}

	entries := make(map[string]types.CacheRecord, len(raw))
	for field, value := range raw {
		var rec types.CacheRecord
		if err := json.Unmarshal([]byte(value), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode entry %s: %w", field, err)
		}
		entries[field] = rec
	}
	return entries, nil
}

// Save replaces the hash inside MULTI/EXEC
func (s *RedisStore) Save(ctx context.Context, entries map[string]types.CacheRecord) error {
	values := make([]any, 0, len(entries)*2)
	for key, rec := range entries {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode entry %s: %w", key, err)
		}
		values = append(values, key, string(data))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
