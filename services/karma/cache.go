package karma

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// leaderboardKey is the cache slot for the ranked snapshot.
const leaderboardKey = "karma:leaderboard"

// Cache is a short-TTL Redis cache in front of the leaderboard query. A
// nil *Cache is valid and always misses.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache wraps a Redis client. TTL defaults to 30 seconds.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{client: client, ttl: ttl}
}

// GetLeaderboard returns the cached snapshot when present and large
// enough, (nil, nil) on a miss.
func (c *Cache) GetLeaderboard(ctx context.Context, limit int) ([]*LeaderboardEntry, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, leaderboardKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read leaderboard cache: %w", err)
	}
	var entries []*LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode leaderboard cache: %w", err)
	}
	if len(entries) < limit {
		// Cached snapshot is shorter than asked for; treat as a miss.
		return nil, nil
	}
	return entries[:limit], nil
}

// SetLeaderboard stores a fresh snapshot.
func (c *Cache) SetLeaderboard(ctx context.Context, entries []*LeaderboardEntry) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode leaderboard cache: %w", err)
	}
	if err := c.client.Set(ctx, leaderboardKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write leaderboard cache: %w", err)
	}
	return nil
}

// Invalidate drops the cached snapshot.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, leaderboardKey).Err(); err != nil {
		return fmt.Errorf("invalidate leaderboard cache: %w", err)
	}
	return nil
}
