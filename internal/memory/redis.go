package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const conversationKeyPrefix = "wachat:conversation:"

// RedisStore is a Store backed by Redis, for deployments where conversation
// memory must survive process restarts. The whole window is stored as one
// JSON value per identity; with the default bound of 10 turns the payload
// stays small enough that read-modify-write is cheaper than a list structure.
type RedisStore struct {
	client *redis.Client
	bound  int
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store from a redis:// URL and verifies
// connectivity. keyTTL bounds how long an idle conversation is retained;
// zero means no expiry.
func NewRedisStore(ctx context.Context, url string, bound int, keyTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	if bound <= 0 {
		bound = 10
	}
	return &RedisStore{client: client, bound: bound, ttl: keyTTL}, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Append(ctx context.Context, identity string, turn Turn) error {
	turns, err := s.load(ctx, identity)
	if err != nil {
		return err
	}

	turns = append(turns, turn)
	if len(turns) > s.bound {
		turns = turns[len(turns)-s.bound:]
	}

	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshalling turns: %w", err)
	}
	return s.client.Set(ctx, conversationKeyPrefix+identity, data, s.ttl).Err()
}

func (s *RedisStore) Recent(ctx context.Context, identity string, window int) ([]Turn, error) {
	turns, err := s.load(ctx, identity)
	if err != nil {
		return nil, err
	}
	if window <= 0 || window > len(turns) {
		window = len(turns)
	}
	return turns[len(turns)-window:], nil
}

func (s *RedisStore) load(ctx context.Context, identity string) ([]Turn, error) {
	data, err := s.client.Get(ctx, conversationKeyPrefix+identity).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(data), &turns); err != nil {
		return nil, fmt.Errorf("unmarshalling conversation: %w", err)
	}
	return turns, nil
}
