package taskq

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// resultKeyPrefix matches the key scheme the worker pool writes under.
const resultKeyPrefix = "task:result:"

// RedisResultStore reads worker results from Redis. go-redis handles
// reconnection internally, so a dropped connection surfaces as a
// transient error rather than a hang.
type RedisResultStore struct {
	rdb *redis.Client
}

func NewRedisResultStore(rdb *redis.Client) *RedisResultStore {
	return &RedisResultStore{rdb: rdb}
}

var _ ResultStore = &RedisResultStore{}

func (s *RedisResultStore) Get(ctx context.Context, correlationID string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, resultKeyPrefix+correlationID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis result lookup failed: %w", err)
	}
	return data, true, nil
}
