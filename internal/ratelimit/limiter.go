package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/docflow/internal/config"
	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	"go.uber.org/fx"
)

const (
	keyDocumentWrite = "docflow:write:%s"
	keySequenceLock  = "docflow:sequence:lock:%s"
)

// DocumentLimiter throttles document writes per client and holds the
// per-type sequence lock. A nil *DocumentLimiter is disabled.
type DocumentLimiter struct {
	client *redis.Client
	writes *writeBucket
	lock   *sequenceLock
}

func NewDocumentLimiter(lc fx.Lifecycle, cfg config.Config) (*DocumentLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	writes, err := newWriteBucket(client, limitCfg.WriteRate, limitCfg.WriteBurst)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	lock, err := newSequenceLock(client, time.Duration(limitCfg.SequenceLockTTLSeconds)*time.Second)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
	}

	return &DocumentLimiter{client: client, writes: writes, lock: lock}, nil
}

func (l *DocumentLimiter) Enabled() bool {
	return l != nil && l.client != nil
}

// AllowWrite takes one token from the client's write bucket.
func (l *DocumentLimiter) AllowWrite(ctx context.Context, clientKey string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		clientKey = "anonymous"
	}
	return l.writes.take(ctx, fmt.Sprintf(keyDocumentWrite, clientKey))
}

func (l *DocumentLimiter) TryLockSequence(ctx context.Context, documentType documentdomain.DocumentType) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.lock.acquire(ctx, sequenceLockKey(documentType))
}

func (l *DocumentLimiter) ReleaseSequence(ctx context.Context, documentType documentdomain.DocumentType, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.lock.release(ctx, sequenceLockKey(documentType), token)
}

func sequenceLockKey(documentType documentdomain.DocumentType) string {
	return fmt.Sprintf(keySequenceLock, strings.TrimSpace(string(documentType)))
}
