package templates

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash key used when none is configured.
const DefaultRedisKey = "bulk-mailer:templates"

// RedisStore keeps templates in a single Redis hash: field = name, value = body.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a RedisStore using an existing client.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

// OpenRedisStore connects to the Redis server at url (redis://...) and
// verifies the connection.
func OpenRedisStore(ctx context.Context, url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStore(client, key), nil
}

// Load returns the whole hash. A key holding another type is reported as a
// malformed document.
func (s *RedisStore) Load(ctx context.Context) (map[string]string, error) {
	templates, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return map[string]string{}, fmt.Errorf("%w: redis key %s: %v", ErrStorageRead, s.key, err)
	}
	if templates == nil {
		templates = map[string]string{}
	}
	return templates, nil
}

// Save replaces the hash in a single MULTI/EXEC transaction.
func (s *RedisStore) Save(ctx context.Context, templates map[string]string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(templates) == 0 {
			return nil
		}

		fields := make([]any, 0, len(templates)*2)
		for name, body := range templates {
			fields = append(fields, name, body)
		}
		pipe.HSet(ctx, s.key, fields...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: redis key %s: %v", ErrStorageWrite, s.key, err)
	}
	return nil
}

// Delete removes a single field.
func (s *RedisStore) Delete(ctx context.Context, name string) error {
	if err := s.client.HDel(ctx, s.key, name).Err(); err != nil {
		return fmt.Errorf("%w: redis key %s: %v", ErrStorageWrite, s.key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
