package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Monitor policies for dead robots.
const (
	MonitorPolicyLog     = "log"
	MonitorPolicyRestart = "restart"
)

type Config struct {
	// Database
	DBEnabled  bool
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MQTT. A memory:// broker runs the fleet in process.
	MQTTBroker         string
	MQTTUsername       string
	MQTTPassword       string
	MQTTConnectTimeout time.Duration

	// HTTP. The REST API and the metrics/health endpoints listen apart.
	HTTPAddr    string
	MetricsAddr string

	// Supervisor
	RegistryPath     string
	RegistryDebounce time.Duration
	MonitorInterval  time.Duration
	MonitorPolicy    string
	StopTimeout      time.Duration
	StorageDir       string
	HistoryLimit     int
	SimulationConfig string

	// Application
	LogLevel        string
	ShutdownTimeout time.Duration
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	cfg := &Config{
		DBEnabled:  getEnvBool("DB_ENABLED", false),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "agv_simulator"),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MQTTBroker:         getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTUsername:       getEnv("MQTT_USERNAME", ""),
		MQTTPassword:       getEnv("MQTT_PASSWORD", ""),
		MQTTConnectTimeout: getEnvDuration("MQTT_CONNECT_TIMEOUT", 5*time.Second),

		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RegistryPath:     getEnv("REGISTRY_PATH", "registered_robots.json"),
		RegistryDebounce: getEnvDuration("REGISTRY_DEBOUNCE", 750*time.Millisecond),
		MonitorInterval:  getEnvDuration("MONITOR_INTERVAL", 10*time.Second),
		MonitorPolicy:    strings.ToLower(getEnv("MONITOR_POLICY", MonitorPolicyLog)),
		StopTimeout:      getEnvDuration("ROBOT_STOP_TIMEOUT", 5*time.Second),
		StorageDir:       getEnv("STORAGE_DIR", "robot_data"),
		HistoryLimit:     getEnvInt("STORAGE_HISTORY_LIMIT", 100),
		SimulationConfig: getEnv("SIM_BASE_CONFIG", ""),

		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if cfg.RegistryPath == "" {
		return fmt.Errorf("REGISTRY_PATH is required")
	}
	if cfg.RegistryDebounce <= 0 {
		return fmt.Errorf("REGISTRY_DEBOUNCE must be greater than 0")
	}
	if cfg.MonitorInterval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be greater than 0")
	}
	if cfg.StopTimeout <= 0 {
		return fmt.Errorf("ROBOT_STOP_TIMEOUT must be greater than 0")
	}
	switch cfg.MonitorPolicy {
	case MonitorPolicyLog, MonitorPolicyRestart:
	default:
		return fmt.Errorf("MONITOR_POLICY must be %q or %q", MonitorPolicyLog, MonitorPolicyRestart)
	}
	if cfg.MetricsAddr != "" && cfg.HTTPAddr == cfg.MetricsAddr {
		return fmt.Errorf("HTTP_ADDR and METRICS_ADDR must differ")
	}
	if cfg.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("Warning: Invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		log.Printf("Warning: Invalid boolean value for %s: %s, using default: %t", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("750ms") or plain seconds ("10").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	log.Printf("Warning: Invalid duration value for %s: %s, using default: %s", key, value, defaultValue)
	return defaultValue
}
