// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cache keys in a shared Redis.
const DefaultRedisPrefix = "rigstream:cache"

// RedisClient is the subset of *redis.Client the store uses.
type RedisClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore persists entries as JSON values in a single Redis hash keyed
// by fingerprint.
type RedisStore struct {
	client RedisClient
	key    string
}

// NewRedisStore wraps client. prefix defaults to DefaultRedisPrefix.
func NewRedisStore(client RedisClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, key: prefix + ":entries"}
}

// DialRedis connects to addr (host:port or a redis:// URL) and verifies the
// connection.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Load(ctx context.Context) ([]Entry, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load cache entries: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for fp, data := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			// skip corrupt values
			continue
		}
		e.Fingerprint = fp
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := s.client.HSet(ctx, s.key, e.Fingerprint, string(data)).Err(); err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, fingerprints ...string) error {
	if len(fingerprints) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, s.key, fingerprints...).Err(); err != nil {
		return fmt.Errorf("delete cache entries: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}
