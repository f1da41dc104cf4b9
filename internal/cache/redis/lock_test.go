package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"solana-swap-ledger/internal/storage"
)

func setupRedis(t *testing.T) (*Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := New(ctx, ClientConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, err)

	return client, func() {
		client.Close()
		_ = container.Terminate(ctx)
	}
}

func TestLockManager_Integration(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	lm := NewLockManager(client, "test:", zap.New(core))

	t.Run("exclusive", func(t *testing.T) {
		release, err := lm.Acquire(ctx, "reconcile", time.Minute)
		require.NoError(t, err)

		_, err = lm.Acquire(ctx, "reconcile", time.Minute)
		assert.ErrorIs(t, err, storage.ErrLockHeld)

		release()
		release()

		release2, err := lm.Acquire(ctx, "reconcile", time.Minute)
		require.NoError(t, err)
		release2()
	})

	t.Run("expires", func(t *testing.T) {
		stale, err := lm.Acquire(ctx, "short", 200*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(400 * time.Millisecond)

		release, err := lm.Acquire(ctx, "short", time.Minute)
		require.NoError(t, err, "expired lock must be reacquirable")

		// stale owner must not release the new owner's lock
		stale()
		_, err = lm.Acquire(ctx, "short", time.Minute)
		assert.ErrorIs(t, err, storage.ErrLockHeld)
		assert.Equal(t, 1, logs.FilterMessage("lock expired before release").Len())

		release()
	})

	t.Run("prefix isolates managers", func(t *testing.T) {
		other := NewLockManager(client, "other:", nil)

		release, err := lm.Acquire(ctx, "shared", time.Minute)
		require.NoError(t, err)
		defer release()

		releaseOther, err := other.Acquire(ctx, "shared", time.Minute)
		require.NoError(t, err)
		releaseOther()
	})

	// Runs last: it closes the shared client.
	t.Run("release failure is logged", func(t *testing.T) {
		release, err := lm.Acquire(ctx, "unreachable", time.Minute)
		require.NoError(t, err)

		require.NoError(t, client.Close())
		release()

		failed := logs.FilterMessage("lock release failed, key is held until its ttl expires").All()
		require.Len(t, failed, 1)
		assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
		assert.Equal(t, "test:lock:unreachable", failed[0].ContextMap()["key"])
	})
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := New(ctx, ClientConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
