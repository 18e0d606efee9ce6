package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes KEYS[1] only when it still holds ARGV[1].
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// sequenceLock is an advisory SET NX lock. The counter row stays the
// source of truth, so an expired or stolen lock only costs a retry.
type sequenceLock struct {
	client *redis.Client
	unlock *redis.Script
	ttl    time.Duration
}

func newSequenceLock(client *redis.Client, ttl time.Duration) (*sequenceLock, error) {
	if client == nil {
		return nil, errors.New("sequence lock requires a redis client")
	}
	if ttl <= 0 {
		return nil, errors.New("sequence lock ttl must be positive")
	}
	return &sequenceLock{
		client: client,
		unlock: redis.NewScript(unlockScript),
		ttl:    ttl,
	}, nil
}

// acquire returns the owner token when key was free.
func (l *sequenceLock) acquire(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("sequence lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *sequenceLock) release(ctx context.Context, key, token string) error {
	if token == "" {
		return nil
	}
	if err := l.unlock.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("sequence unlock %s: %w", key, err)
	}
	return nil
}
