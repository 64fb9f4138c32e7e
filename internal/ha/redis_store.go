package ha

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkAndDelScript deletes the key only while it still holds our
// value, so a slow shutdown cannot release a successor's lease.
var checkAndDelScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockStore implements LockStore over go-redis.
type RedisLockStore struct {
	client *redis.Client
}

// NewRedisLockStore connects using a redis URL
// (e.g. redis://localhost:6379/0).
func NewRedisLockStore(url string) (*RedisLockStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisLockStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisLockStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (s *RedisLockStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisLockStore) SetXX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetXX(ctx, key, value, ttl).Result()
}

func (s *RedisLockStore) DelIfValue(ctx context.Context, key, value string) error {
	return checkAndDelScript.Run(ctx, s.client, []string{key}, value).Err()
}

// Close releases the underlying client.
func (s *RedisLockStore) Close() error { return s.client.Close() }
