package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lalithlochan/nudge/internal/kv"
)

// KVStore persists ledger and preference records as plain Redis strings.
// Records never expire; the ledger prunes its own history.
type KVStore struct {
	client *Client
}

var _ kv.Store = (*KVStore)(nil)

// NewKVStore returns a kv.Store backed by the client.
func NewKVStore(client *Client) *KVStore {
	return &KVStore{client: client}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.rdb.Get(ctx, s.client.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.rdb.Set(ctx, s.client.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.client.rdb.Del(ctx, s.client.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
