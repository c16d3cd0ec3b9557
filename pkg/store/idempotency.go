package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIdempotency guards against duplicate client-assigned message IDs
// with a cheap SETNX check, so a retried AppendMessage call can short-
// circuit before reaching Postgres. It is a best-effort accelerator: the
// Postgres unique constraint in AppendMessage remains the source of truth.
type RedisIdempotency struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotency wraps client. ttl of zero defaults to one hour.
func NewRedisIdempotency(client *redis.Client, ttl time.Duration) *RedisIdempotency {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisIdempotency{client: client, ttl: ttl}
}

// Claim returns true if messageID was not previously claimed (the caller
// should proceed with the write), or false if another call already claimed
// it within ttl (the caller should treat this as a duplicate retry).
func (g *RedisIdempotency) Claim(ctx context.Context, messageID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, idempotencyKey(messageID), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("store: idempotency claim: %w", err)
	}
	return ok, nil
}

func idempotencyKey(messageID string) string {
	return "voxgate:idempotency:message:" + messageID
}
