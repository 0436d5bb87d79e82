package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Harsh-BH/crmjobs/internal/repository"
)

var _ repository.SubmissionGuard = (*redisGuard)(nil)

const (
	guardKeyPrefix = "crmjobs:submit:"
	// holdTTL bounds how long a crashed orchestration can keep a key.
	holdTTL = 2 * time.Hour
	// retainTTL is how long a finished key keeps rejecting replays.
	retainTTL = 10 * time.Minute
)

type redisGuard struct {
	client *goredis.Client
}

// NewRedisSubmissionGuard creates a Redis-backed submission guard using SETNX.
func NewRedisSubmissionGuard(client *goredis.Client) repository.SubmissionGuard {
	return &redisGuard{client: client}
}

// Acquire uses Redis SETNX to atomically take the key.
func (r *redisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, guardKeyPrefix+key, time.Now().Unix(), holdTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire guard: %w", err)
	}
	return ok, nil
}

// Release shortens the key's TTL to the retention window.
func (r *redisGuard) Release(ctx context.Context, key string) error {
	if err := r.client.Expire(ctx, guardKeyPrefix+key, retainTTL).Err(); err != nil {
		return fmt.Errorf("redis: release guard: %w", err)
	}
	return nil
}

// Discard deletes the key.
func (r *redisGuard) Discard(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, guardKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis: discard guard: %w", err)
	}
	return nil
}
