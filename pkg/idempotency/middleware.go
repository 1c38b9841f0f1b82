// Package idempotency dedupes inbound chat messages. A transport that
// redelivers after a consumer restart would otherwise replay turns into
// the conversation engine.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Key identifies one inbound message by its position in the stream.
func (s *Store) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("inbound:%s:%d:%d", topic, partition, offset)
}

// Seen claims the key and reports whether it was already claimed.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Release gives the key back so a message whose processing failed can be
// retried on redelivery.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
