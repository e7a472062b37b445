package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// Backend stores encoded entries.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
	// Delete removes keys and reports how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)
	Name() string
	Close() error
}

// LRUBackend keeps entries in process memory.
type LRUBackend struct {
	entries *lru.Cache[string, []byte]
}

// NewLRUBackend creates a backend holding at most size entries.
func NewLRUBackend(size int) (*LRUBackend, error) {
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &LRUBackend{entries: entries}, nil
}

func (b *LRUBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, ok := b.entries.Get(key)
	return data, ok, nil
}

func (b *LRUBackend) Set(_ context.Context, key string, data []byte) error {
	b.entries.Add(key, data)
	return nil
}

func (b *LRUBackend) Delete(_ context.Context, keys ...string) (int, error) {
	n := 0
	for _, k := range keys {
		if b.entries.Remove(k) {
			n++
		}
	}
	return n, nil
}

func (b *LRUBackend) Name() string { return "lru" }

// Len returns the number of cached entries.
func (b *LRUBackend) Len() int { return b.entries.Len() }

func (b *LRUBackend) Close() error {
	b.entries.Purge()
	return nil
}

// RedisOptions configures a RedisBackend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long an entry may stay stale. Zero keeps entries until invalidated.
	TTL       time.Duration
	KeyPrefix string
}

// RedisBackend shares entries between service instances.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisBackend connects to redis and verifies the connection.
func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return &RedisBackend{client: client, ttl: opts.TTL, prefix: opts.KeyPrefix}, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, data []byte) error {
	return b.client.Set(ctx, b.prefix+key, data, b.ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = b.prefix + k
	}
	n, err := b.client.Del(ctx, prefixed...).Result()
	return int(n), err
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
