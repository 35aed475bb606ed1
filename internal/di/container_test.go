package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agv-simulator/config"
	"agv-simulator/internal/messaging"
	"agv-simulator/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		MQTTBroker:         "memory://local",
		MQTTConnectTimeout: time.Second,
		RegistryPath:       filepath.Join(dir, "registered_robots.json"),
		RegistryDebounce:   50 * time.Millisecond,
		MonitorInterval:    time.Second,
		MonitorPolicy:      config.MonitorPolicyLog,
		StopTimeout:        time.Second,
		StorageDir:         filepath.Join(dir, "robot_data"),
		HistoryLimit:       10,
		ShutdownTimeout:    time.Second,
	}
}

func connectionState(t *testing.T, broker *messaging.MemoryBroker, serial string) models.ConnectionState {
	t.Helper()
	topic := messaging.Topic{Interface: "uagv", Version: "v2", Manufacturer: "SimulatorAGV", SerialNumber: serial}
	payload, ok := broker.Retained(topic.Channel(messaging.ChannelConnection))
	require.True(t, ok)
	conn, err := models.DecodeConnection(payload)
	require.NoError(t, err)
	return conn.ConnectionState
}

func TestContainerRunsRegistryFleet(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.RegistryPath,
		[]byte(`[{"id":"r1","serialNumber":"AGV-1","manufacturer":"SimulatorAGV"}]`), 0o644))

	c, err := NewContainer(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Cleanup()

	require.NotNil(t, c.Broker)
	assert.Nil(t, c.APIServer)
	assert.Nil(t, c.OpsServer)
	assert.Nil(t, c.Redis)
	assert.Nil(t, c.Database)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, 1, c.Manager.Count())
	assert.True(t, c.Manager.IsRunning())
	assert.Equal(t, models.ConnectionOnline, connectionState(t, c.Broker, "AGV-1"))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	c.Shutdown(ctx)

	assert.False(t, c.Manager.IsRunning())
	assert.Equal(t, models.ConnectionOffline, connectionState(t, c.Broker, "AGV-1"))
	assert.DirExists(t, filepath.Join(cfg.StorageDir))
}

func TestContainerSurvivesMalformedRegistry(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.RegistryPath, []byte(`{not json`), 0o644))

	c, err := NewContainer(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Cleanup()

	require.NoError(t, c.Start(context.Background()))
	defer c.Shutdown(context.Background())
	assert.Equal(t, 0, c.Manager.Count())
}

func TestContainerBuildsServers(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	c, err := NewContainer(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer c.Cleanup()

	assert.NotNil(t, c.APIServer)
	require.NotNil(t, c.OpsServer)
	assert.Equal(t, "127.0.0.1:0", c.OpsServer.Addr)
}

func TestContainerRejectsBadSimulationFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.SimulationConfig = filepath.Join(t.TempDir(), "sim.toml")
	require.NoError(t, os.WriteFile(cfg.SimulationConfig, []byte("state_frequency = ["), 0o644))

	_, err := NewContainer(context.Background(), cfg, nil)
	assert.Error(t, err)
}
