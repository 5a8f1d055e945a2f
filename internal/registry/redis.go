package registry

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/infodancer/relayd/internal/identity"
)

// DefaultRedisKey is the SET holding approved identities.
const DefaultRedisKey = "relayd:approved"

// RedisStore keeps the set in a Redis SET.
type RedisStore struct {
	client *redis.Client
	key    string
	owned  bool
}

// NewRedisStore wraps an existing client. Close does not close it.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// OpenRedisStore connects to url and verifies the connection.
func OpenRedisStore(ctx context.Context, url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s := NewRedisStore(client, key)
	s.owned = true
	return s, nil
}

// Client returns the underlying client so other components can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Load reads the SET. A missing key is an empty set.
func (s *RedisStore) Load(ctx context.Context) ([]identity.Identity, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", s.key, err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	ids := make([]identity.Identity, 0, len(members))
	for _, m := range members {
		id, err := identity.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("%w: member %q: %v", ErrMalformed, m, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Save replaces the SET in a single transaction.
func (s *RedisStore) Save(ctx context.Context, ids []identity.Identity) error {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id.String()
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(members) > 0 {
			pipe.SAdd(ctx, s.key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", s.key, err)
	}
	return nil
}

// Close closes the client if this store opened it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
