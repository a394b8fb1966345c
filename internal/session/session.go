// Package session tracks upload sessions in Redis. An upload session is
// keyed by the caller's idempotency key; once an upload settles, its
// outcome is recorded so a retried request returns the same result instead
// of appending a duplicate version.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"docvault/internal/config"
	"docvault/internal/model"
)

// Outcome is the settled result of one upload session.
type Outcome struct {
	DocumentID string               `json:"document_id"`
	Version    int                  `json:"version"`
	Status     model.DocumentStatus `json:"status"`
	Checksum   string               `json:"checksum"`
}

// Store persists upload session outcomes with a TTL.
type Store interface {
	// Lookup returns the recorded outcome for an idempotency key, or nil
	// when the key has not settled.
	Lookup(ctx context.Context, tenantID, idempotencyKey string) (*Outcome, error)
	// Record stores the settled outcome for an idempotency key.
	Record(ctx context.Context, tenantID, idempotencyKey string, out Outcome) error
	// Ping verifies connectivity for health reporting.
	Ping(ctx context.Context) error
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to Redis and validates connectivity.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{client: client, ttl: cfg.SessionTTL}, nil
}

func sessionKey(tenantID, idempotencyKey string) string {
	return fmt.Sprintf("upload_session:%s:%s", tenantID, idempotencyKey)
}

func (s *redisStore) Lookup(ctx context.Context, tenantID, idempotencyKey string) (*Outcome, error) {
	raw, err := s.client.Get(ctx, sessionKey(tenantID, idempotencyKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}

	var out Outcome
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode session outcome: %w", err)
	}
	return &out, nil
}

func (s *redisStore) Record(ctx context.Context, tenantID, idempotencyKey string, out Outcome) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode session outcome: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(tenantID, idempotencyKey), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("session record: %w", err)
	}
	return nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
