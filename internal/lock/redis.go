package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores lock records in Redis, namespaced by instance name so
// multiple stagehand instances can safely share one Redis server. SET NX is
// the atomic create-new-or-fail primitive.
//
// Key pattern: stagehand:{instance_name}:lock:{resource}
type RedisBackend struct {
	rdb          *redis.Client
	instanceName string
}

// NewRedisBackend creates a backend for the given instance.
func NewRedisBackend(opts *redis.Options, instanceName string) (*RedisBackend, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &RedisBackend{
		rdb:          redis.NewClient(opts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// lockKey returns the Redis key for a resource's lock record.
func (b *RedisBackend) lockKey(resource string) string {
	return fmt.Sprintf("stagehand:%s:lock:%s", b.instanceName, resource)
}

// lockKeyPattern returns the scan pattern matching every lock record.
func (b *RedisBackend) lockKeyPattern() string {
	return fmt.Sprintf("stagehand:%s:lock:*", b.instanceName)
}

// TryCreate implements Backend using SET NX.
func (b *RedisBackend) TryCreate(ctx context.Context, l *Lock) (*Lock, bool, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return nil, false, fmt.Errorf("failed to serialize lock: %w", err)
	}

	created, err := b.rdb.SetNX(ctx, b.lockKey(l.Resource), data, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to write lock to Redis: %w", err)
	}
	if created {
		return nil, true, nil
	}

	existing, err := b.Get(ctx, l.Resource)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("lock on '%s' vanished during acquisition", l.Resource)
	}
	return existing, false, nil
}

// Get reads the lock record, returning nil when the resource is unlocked.
func (b *RedisBackend) Get(ctx context.Context, resource string) (*Lock, error) {
	data, err := b.rdb.Get(ctx, b.lockKey(resource)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock from Redis: %w", err)
	}

	var l Lock
	if err := json.Unmarshal([]byte(data), &l); err != nil {
		return nil, fmt.Errorf("corrupt lock record for '%s': %w", resource, err)
	}
	return &l, nil
}

// Delete removes the lock record; absence is not an error.
func (b *RedisBackend) Delete(ctx context.Context, resource string) error {
	if err := b.rdb.Del(ctx, b.lockKey(resource)).Err(); err != nil {
		return fmt.Errorf("failed to delete lock from Redis: %w", err)
	}
	return nil
}

// List scans every lock record for this instance.
func (b *RedisBackend) List(ctx context.Context) ([]*Lock, error) {
	prefix := strings.TrimSuffix(b.lockKeyPattern(), "*")

	var locks []*Lock
	iter := b.rdb.Scan(ctx, 0, b.lockKeyPattern(), 100).Iterator()
	for iter.Next(ctx) {
		resource := strings.TrimPrefix(iter.Val(), prefix)
		l, err := b.Get(ctx, resource)
		if err != nil {
			return nil, err
		}
		if l != nil {
			locks = append(locks, l)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan lock keys: %w", err)
	}
	return locks, nil
}
