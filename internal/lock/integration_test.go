//go:build integration

package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container for testing.
func setupRedis(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisURL := fmt.Sprintf("redis://%s:%s", host, port.Port())

	cleanup := func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	}

	return redisURL, cleanup
}

// TestRedisBackend_ExclusivityAgainstRealRedis exercises the full
// acquire/conflict/release cycle against a real Redis server.
func TestRedisBackend_ExclusivityAgainstRealRedis(t *testing.T) {
	redisURL, cleanup := setupRedis(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)

	backend, err := NewRedisBackend(opts, "integration")
	require.NoError(t, err)
	defer backend.Close()
	require.NoError(t, backend.Ping(ctx))

	m := NewManager(backend, time.Hour)

	_, err = m.Acquire(ctx, "src/x.js", "S1")
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "src/x.js", "S2")
	conflict, ok := err.(*ConflictError)
	require.True(t, ok, "expected *ConflictError, got %T", err)
	assert.Equal(t, "S1", conflict.Holder)

	require.NoError(t, m.Release(ctx, "src/x.js", "S1"))

	_, err = m.Acquire(ctx, "src/x.js", "S2")
	assert.NoError(t, err)
}
