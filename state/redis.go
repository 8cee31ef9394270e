package state

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/teranos/vigil/config"
	"github.com/teranos/vigil/errors"
)

// RedisStore implements Store over go-redis/v9 for deployments where several
// vigil instances share one state store. Keys are namespaced with a prefix so
// vigil can share a database with other tenants.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store from the configured Redis backend settings.
// The connection is lazy; call Ping to verify reachability at startup.
func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "vigil:"
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Ping verifies the Redis connection is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "failed to ping redis state store")
	}
	return nil
}

func (r *RedisStore) key(key string) string {
	return r.prefix + key
}

// Get returns the value at key, with found=false when the key is absent.
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to read state key %q", key)
	}

	return value, true, nil
}

// Set writes value under key with no expiry: state must survive restarts.
func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return errors.Wrapf(err, "failed to write state key %q", key)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return errors.Wrapf(err, "failed to remove state key %q", key)
	}
	return nil
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
