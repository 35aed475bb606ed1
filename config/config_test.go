package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "registered_robots.json", cfg.RegistryPath)
	assert.Equal(t, 750*time.Millisecond, cfg.RegistryDebounce)
	assert.Equal(t, 10*time.Second, cfg.MonitorInterval)
	assert.Equal(t, MonitorPolicyLog, cfg.MonitorPolicy)
	assert.Equal(t, 5*time.Second, cfg.StopTimeout)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, 100, cfg.HistoryLimit)
	assert.False(t, cfg.RedisEnabled)
	assert.False(t, cfg.DBEnabled)
}

func TestLoadConfigFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MQTT_BROKER", "memory://")
	t.Setenv("REGISTRY_DEBOUNCE", "1s")
	t.Setenv("MONITOR_INTERVAL", "2")
	t.Setenv("MONITOR_POLICY", "RESTART")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory://", cfg.MQTTBroker)
	assert.Equal(t, time.Second, cfg.RegistryDebounce)
	assert.Equal(t, 2*time.Second, cfg.MonitorInterval)
	assert.Equal(t, MonitorPolicyRestart, cfg.MonitorPolicy)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, 0, cfg.RedisDB)
}

func TestLoadConfigFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HTTP_ADDR=:9999\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("HTTP_ADDR") })

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			MQTTBroker:       "tcp://localhost:1883",
			RegistryPath:     "r.json",
			RegistryDebounce: time.Second,
			MonitorInterval:  time.Second,
			StopTimeout:      time.Second,
			MonitorPolicy:    MonitorPolicyLog,
		}
	}
	require.NoError(t, validateConfig(valid()))

	cases := map[string]func(*Config){
		"broker":   func(c *Config) { c.MQTTBroker = "" },
		"registry": func(c *Config) { c.RegistryPath = "" },
		"debounce": func(c *Config) { c.RegistryDebounce = 0 },
		"monitor":  func(c *Config) { c.MonitorInterval = -time.Second },
		"policy":   func(c *Config) { c.MonitorPolicy = "ignore" },
		"stop":     func(c *Config) { c.StopTimeout = 0 },
		"ports":    func(c *Config) { c.HTTPAddr, c.MetricsAddr = ":8080", ":8080" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, validateConfig(c))
		})
	}
}

func TestLoadSimulation(t *testing.T) {
	t.Run("empty path gives defaults", func(t *testing.T) {
		sim, err := LoadSimulation("")
		require.NoError(t, err)
		assert.Equal(t, DefaultSimulation(), sim)
	})

	t.Run("missing file gives defaults", func(t *testing.T) {
		sim, err := LoadSimulation(filepath.Join(t.TempDir(), "nope.toml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultSimulation(), sim)
	})

	t.Run("partial file overrides defined keys", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sim.toml")
		require.NoError(t, os.WriteFile(path, []byte("map_id = \"warehouse\"\nspeed = 0.2\nstate_frequency = 4\n"), 0o644))

		sim, err := LoadSimulation(path)
		require.NoError(t, err)
		assert.Equal(t, "warehouse", sim.MapID)
		assert.Equal(t, 0.2, sim.Speed)
		assert.Equal(t, 4.0, sim.StateFrequency)
		assert.Equal(t, "uagv", sim.VDAInterface)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sim.toml")
		require.NoError(t, os.WriteFile(path, []byte("state_frequency = 0\n"), 0o644))
		_, err := LoadSimulation(path)
		assert.Error(t, err)
	})

	t.Run("broken toml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sim.toml")
		require.NoError(t, os.WriteFile(path, []byte("speed = = 1"), 0o644))
		_, err := LoadSimulation(path)
		assert.Error(t, err)
	})
}

// chdir changes the working directory for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(old)) })
}
