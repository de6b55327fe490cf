package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key the document lives under.
const DefaultRedisKey = "agent-gateway:settings"

// RedisStore keeps the YAML document under a single Redis key.
type RedisStore struct {
	rdb *redis.Client
	key string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key}
}

func (r *RedisStore) Load(ctx context.Context) (*Settings, error) {
	return loadWith(func() ([]byte, error) {
		data, err := r.rdb.Get(ctx, r.key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read settings from redis: %w", err)
		}
		return data, nil
	})
}

func (r *RedisStore) Save(ctx context.Context, s *Settings) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write settings to redis: %w", err)
	}
	return nil
}
