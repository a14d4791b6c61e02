package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupTTL = 72 * time.Hour

// DedupService gives the dispatcher at-most-once delivery per message: the
// pipeline itself creates a duplicate note if fed the same message twice,
// so every fetched message is claimed here before processing.
type DedupService struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewDedupService tracks seen message ids in Redis.
func NewDedupService(client *redis.Client, prefix string, ttl time.Duration) *DedupService {
	if prefix == "" {
		prefix = "replyflow:seen:"
	}
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &DedupService{client: client, prefix: prefix, ttl: ttl}
}

// Claim marks a message id as processed. Returns false when another
// invocation already claimed it.
func (s *DedupService) Claim(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		// No Message-Id to key on; let the message through.
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, s.prefix+messageID, 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim: %w", err)
	}
	return ok, nil
}

// Release drops a claim so a failed invocation can be retried by the
// dispatcher.
func (s *DedupService) Release(ctx context.Context, messageID string) error {
	if messageID == "" {
		return nil
	}
	if err := s.client.Del(ctx, s.prefix+messageID).Err(); err != nil {
		return fmt.Errorf("dedup release: %w", err)
	}
	return nil
}
