package cache

import (
	"context"
	"testing"
	"time"

	"github.com/loqalabs/loqa-avatar/internal/config"
	"github.com/redis/go-redis/v9"
)

func TestNewDisabled(t *testing.T) {
	if c := New(config.CacheConfig{Enabled: false, RedisAddr: "localhost:6379"}); c != nil {
		t.Fatal("expected nil cache when disabled")
	}
}

func TestUnreachableRedisReportsErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewAudioCache(client, time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, ok, err := c.Get(ctx, "loqa:tts:x"); err == nil || ok {
		t.Fatalf("expected get error, got ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "loqa:tts:x", []byte("RIFF")); err == nil {
		t.Fatal("expected set error")
	}
	if err := c.Ping(ctx); err == nil {
		t.Fatal("expected ping error")
	}
}
