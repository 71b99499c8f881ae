package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps saga logs in Redis with a TTL. Logs are observability
// records, not the source of truth, so expiry is acceptable.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "saga:log:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, log *Log) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal saga log: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+log.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set saga log: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Log, error) {
	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get saga log: %w", err)
	}
	var log Log
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("unmarshal saga log: %w", err)
	}
	return &log, nil
}

func (s *RedisStore) Update(ctx context.Context, log *Log) error {
	return s.Save(ctx, log)
}
