package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/redis/go-redis/v9"
)

// AudioCache stores synthesized WAV bytes in Redis, keyed by text and voice.
type AudioCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to the configured Redis instance. It returns nil when the
// cache is disabled.
func New(cfg config.CacheConfig) *AudioCache {
	if !cfg.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
		ReadTimeout: time.Second,
	})
	return NewAudioCache(client, time.Duration(cfg.TTLSeconds)*time.Second)
}

func NewAudioCache(client *redis.Client, ttl time.Duration) *AudioCache {
	return &AudioCache{client: client, ttl: ttl}
}

// Get returns the cached audio. A missing key is not an error.
func (c *AudioCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

func (c *AudioCache) Set(ctx context.Context, key string, audio []byte) error {
	if err := c.client.Set(ctx, key, audio, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *AudioCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *AudioCache) Close() error {
	return c.client.Close()
}
