package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// UserConcurrencyLimiter manages per-user concurrency limits
type UserConcurrencyLimiter struct {
	redis      *redis.Client
	maxPerUser int
	keyPrefix  string
}

// NewUserConcurrencyLimiter creates a new user concurrency limiter
func NewUserConcurrencyLimiter(redis *redis.Client, maxPerUser int) *UserConcurrencyLimiter {
	return &UserConcurrencyLimiter{
		redis:      redis,
		maxPerUser: maxPerUser,
		keyPrefix:  "user:concurrency:",
	}
}

// Acquire attempts to acquire a concurrency slot for a user
// Returns true if acquired, false if the user is at capacity
func (ucl *UserConcurrencyLimiter) Acquire(ctx context.Context, userID string, executionID string) (bool, error) {
	key := ucl.keyPrefix + userID

	// Use Redis ZADD with NX to atomically check and increment
	// Store execution ID with current timestamp as score
	now := float64(time.Now().Unix())

	// First, clean up old entries (executions that finished more than 1 hour ago)
	cutoff := now - 3600
	ucl.redis.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%f", cutoff))

	// Count current active executions
	count, err := ucl.redis.ZCard(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check user concurrency: %w", err)
	}

	// Check if at capacity
	if int(count) >= ucl.maxPerUser {
		return false, nil
	}

	// Add this execution
	_, err = ucl.redis.ZAdd(ctx, key, redis.Z{
		Score:  now,
		Member: executionID,
	}).Result()

	if err != nil {
		return false, fmt.Errorf("failed to acquire concurrency slot: %w", err)
	}

	// Set expiry on the key to ensure cleanup
	ucl.redis.Expire(ctx, key, 24*time.Hour)

	return true, nil
}

// Release releases a concurrency slot for a user
func (ucl *UserConcurrencyLimiter) Release(ctx context.Context, userID string, executionID string) error {
	key := ucl.keyPrefix + userID

	_, err := ucl.redis.ZRem(ctx, key, executionID).Result()
	if err != nil {
		return fmt.Errorf("failed to release concurrency slot: %w", err)
	}

	return nil
}

// GetCurrent returns the current concurrency count for a user
func (ucl *UserConcurrencyLimiter) GetCurrent(ctx context.Context, userID string) (int, error) {
	key := ucl.keyPrefix + userID

	// Clean up old entries first
	now := float64(time.Now().Unix())
	cutoff := now - 3600
	ucl.redis.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%f", cutoff))

	count, err := ucl.redis.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get user concurrency: %w", err)
	}

	return int(count), nil
}

// GetMaxPerUser returns the maximum concurrent executions per user
func (ucl *UserConcurrencyLimiter) GetMaxPerUser() int {
	return ucl.maxPerUser
}
