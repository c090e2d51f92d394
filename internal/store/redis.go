package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mls:group:"

// RedisStore persists group state in Redis, grounded on the teacher's
// Room.Save(ctx, rdb) wiring: one key per group, the encoded blob as the
// value, an optional TTL applied uniformly to every SaveState call.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore wraps an existing *redis.Client. ttl of zero means no
// expiration, matching redis.Client.Set's own zero-TTL convention.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(groupID []byte) string {
	return keyPrefix + hex.EncodeToString(groupID)
}

func (s *RedisStore) SaveState(ctx context.Context, groupID []byte, encoded []byte) error {
	if err := s.rdb.Set(ctx, redisKey(groupID), encoded, s.ttl).Err(); err != nil {
		return fmt.Errorf("store: save state: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadState(ctx context.Context, groupID []byte) ([]byte, error) {
	encoded, err := s.rdb.Get(ctx, redisKey(groupID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load state: %w", err)
	}
	return encoded, nil
}

func (s *RedisStore) DeleteState(ctx context.Context, groupID []byte) error {
	if err := s.rdb.Del(ctx, redisKey(groupID)).Err(); err != nil {
		return fmt.Errorf("store: delete state: %w", err)
	}
	return nil
}
