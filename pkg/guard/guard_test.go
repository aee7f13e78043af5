package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func exerciseGuard(t *testing.T, g Guard) {
	t.Helper()

	ctx := context.Background()

	ok, err := g.Acquire(ctx, 7, "exec-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Acquire(ctx, 7, "exec-2")
	require.NoError(t, err)
	assert.False(t, ok, "second run is rejected")

	ok, err = g.Acquire(ctx, 8, "exec-3")
	require.NoError(t, err)
	assert.True(t, ok, "other workflows are independent")

	id, active, err := g.Active(ctx, 7)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, "exec-1", id)

	require.NoError(t, g.Release(ctx, 7))

	_, active, err = g.Active(ctx, 7)
	require.NoError(t, err)
	assert.False(t, active)

	ok, err = g.Acquire(ctx, 7, "exec-4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory(t *testing.T) {
	t.Parallel()

	exerciseGuard(t, NewMemory(time.Minute))
}

func TestMemory_LeaseExpires(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewMemory(time.Minute)
	g.now = func() time.Time { return now }

	ok, err := g.Acquire(context.Background(), 1, "a")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)

	_, active, err := g.Active(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, active)

	ok, err = g.Acquire(context.Background(), 1, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	g, err := NewRedis(ctx, "redis://"+endpoint+"/0", time.Minute, nil)
	require.NoError(t, err)

	t.Cleanup(func() { _ = g.Close() })

	exerciseGuard(t, g)

	ttl, err := g.client.TTL(ctx, key(7)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_, err = NewRedis(ctx, "://bad", time.Minute, nil)
	assert.Error(t, err)
}
