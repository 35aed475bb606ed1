package redis

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agv-simulator/config"
	"agv-simulator/models"
)

func newTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := &config.Config{RedisHost: mr.Host(), RedisPort: mr.Port()}

	client, err := NewRedisClient(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestSaveAndGetState(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	state := models.NewState("2.0.0", "Acme", "AGV-1")
	state.HeaderID = 42
	require.NoError(t, client.SaveState(ctx, "r1", state))

	got, err := client.GetState(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.HeaderID)
	assert.Equal(t, "AGV-1", got.SerialNumber)

	ttl := mr.TTL("robot:state:r1")
	assert.Equal(t, 24*time.Hour, ttl)

	_, err = client.GetState(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestConnectionStatus(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	assert.False(t, client.IsRobotOnline(ctx, "r1"))
	_, err := client.GetConnectionStatus(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotCached)
	require.NoError(t, client.SaveConnection(ctx, "r1", &models.Connection{ConnectionState: models.ConnectionOnline}))
	assert.True(t, client.IsRobotOnline(ctx, "r1"))

	status, err := client.GetConnectionStatus(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionOnline, status)
}

func TestPurge(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.SaveState(ctx, "r1", models.NewState("2.0.0", "Acme", "AGV-1")))
	require.NoError(t, client.SaveOrder(ctx, "r1", &models.Order{OrderID: "o1"}))
	require.NoError(t, client.SaveConnection(ctx, "r1", &models.Connection{ConnectionState: models.ConnectionOffline}))
	require.NoError(t, client.SaveState(ctx, "r2", models.NewState("2.0.0", "Acme", "AGV-2")))

	require.NoError(t, client.Purge(ctx, "r1"))

	assert.False(t, mr.Exists("robot:state:r1"))
	assert.False(t, mr.Exists("robot:order:r1"))
	assert.False(t, mr.Exists("robot:connection:r1"))
	assert.True(t, mr.Exists("robot:state:r2"))
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{RedisHost: mr.Host(), RedisPort: mr.Port()}
	mr.Close()

	_, err := NewRedisClient(context.Background(), cfg, slog.Default())
	assert.Error(t, err)
}
