package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PlaybackCache remembers resolved playback source URLs by playback id.
type PlaybackCache struct {
	cli    *redis.Client
	prefix string
}

func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx).Err(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return r, nil
}

func NewPlaybackCache(cli *redis.Client) *PlaybackCache {
	return &PlaybackCache{cli: cli, prefix: "playback:"}
}

// Get returns ok=false on a miss.
func (c *PlaybackCache) Get(ctx context.Context, playbackID string) (string, bool, error) {
	s, err := c.cli.Get(ctx, c.prefix+playbackID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

func (c *PlaybackCache) Set(ctx context.Context, playbackID, sourceURL string, ttl time.Duration) error {
	return c.cli.Set(ctx, c.prefix+playbackID, sourceURL, ttl).Err()
}

func (c *PlaybackCache) Close() error {
	return c.cli.Close()
}
