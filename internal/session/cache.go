package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache mirrors the live token in redis with the validity window as TTL,
// so the lecturer display poll does not hit Postgres every few seconds.
// The database row stays authoritative; cache misses fall through to it.
type TokenCache struct {
	client *redis.Client
	prefix string
}

// NewTokenCache creates a cache over the shared redis client.
func NewTokenCache(client *redis.Client) *TokenCache {
	return &TokenCache{client: client, prefix: "classtrack:session_token:"}
}

// Put stores the token until expiresAt. Values are stored as token|expiry.
func (c *TokenCache) Put(ctx context.Context, sessionID, token string, expiresAt, now time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}
	val := token + "|" + expiresAt.UTC().Format(time.RFC3339Nano)
	return c.client.Set(ctx, c.prefix+sessionID, val, ttl).Err()
}

// Get returns the cached token and its expiry, or "" on a miss.
func (c *TokenCache) Get(ctx context.Context, sessionID string) (string, time.Time, error) {
	if c == nil || c.client == nil {
		return "", time.Time{}, nil
	}
	val, err := c.client.Get(ctx, c.prefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return "", time.Time{}, nil
	}
	if err != nil {
		return "", time.Time{}, err
	}
	token, expStr, ok := strings.Cut(val, "|")
	if !ok {
		return "", time.Time{}, nil
	}
	exp, err := time.Parse(time.RFC3339Nano, expStr)
	if err != nil {
		return "", time.Time{}, nil
	}
	return token, exp, nil
}

// Drop removes the cached token, used on rotation loss and session end.
func (c *TokenCache) Drop(ctx context.Context, sessionID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.prefix+sessionID).Err()
}
