package history

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "oantfy:delivered"

// RedisStore keeps delivered IDs as members of a redis set.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Contains(ctx context.Context, id string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, id).Result()
	if err != nil {
		return false, fmt.Errorf("redis SISMEMBER %s: %w", s.key, err)
	}
	return ok, nil
}

func (s *RedisStore) Insert(ctx context.Context, id string) error {
	if err := s.client.SAdd(ctx, s.key, id).Err(); err != nil {
		return fmt.Errorf("redis SADD %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
