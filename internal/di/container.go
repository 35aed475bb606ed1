package di

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"agv-simulator/config"
	"agv-simulator/database"
	"agv-simulator/handlers"
	"agv-simulator/internal/instance"
	"agv-simulator/internal/messaging"
	"agv-simulator/internal/metrics"
	"agv-simulator/internal/robot"
	"agv-simulator/internal/storage"
	"agv-simulator/models"
	"agv-simulator/redis"

	"github.com/labstack/echo/v4"
)

// Container wires every long-lived component of the simulator.
type Container struct {
	Config     *config.Config
	Simulation config.Simulation
	Logger     *slog.Logger

	// Broker is set when the fleet runs on the in-process broker.
	Broker   *messaging.MemoryBroker
	Files    *storage.FileStore
	Redis    *redis.RedisClient
	Database *database.Database
	Store    storage.Store

	Factory *robot.Factory
	Manager *instance.Manager

	APIServer *echo.Echo
	OpsServer *http.Server
}

// NewContainer builds the container in stages. Nothing is started yet.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{Config: cfg, Logger: logger}

	// 1. Simulation template
	sim, err := config.LoadSimulation(cfg.SimulationConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load simulation config: %w", err)
	}
	c.Simulation = sim

	// 2. Storage
	if err := c.initStorage(ctx); err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	// 3. Fleet
	c.initFleet()

	// 4. HTTP
	c.initServers()

	metrics.RegisterMetrics()
	return c, nil
}

func (c *Container) initStorage(ctx context.Context) error {
	files, err := storage.NewFileStore(c.Config.StorageDir, c.Config.HistoryLimit)
	if err != nil {
		return err
	}
	c.Files = files
	stores := storage.Multi{files}

	if c.Config.RedisEnabled {
		rdb, err := redis.NewRedisClient(ctx, c.Config, c.Logger)
		if err != nil {
			return err
		}
		c.Redis = rdb
		stores = append(stores, rdb)
	}

	if c.Config.DBEnabled {
		db, err := database.NewDatabase(c.Config, c.Logger)
		if err != nil {
			return err
		}
		c.Database = db
		stores = append(stores, db)
	}

	c.Store = stores
	return nil
}

func (c *Container) initFleet() {
	if strings.HasPrefix(c.Config.MQTTBroker, messaging.MemoryScheme) {
		c.Broker = messaging.NewMemoryBroker()
		c.Logger.Info("Using in-process broker")
	}

	c.Factory = &robot.Factory{
		Simulation:     c.Simulation,
		Transports:     messaging.NewTransportFactory(c.Config.MQTTBroker, c.Broker),
		MQTTUsername:   c.Config.MQTTUsername,
		MQTTPassword:   c.Config.MQTTPassword,
		Store:          c.Store,
		Logger:         c.Logger,
		ConnectTimeout: c.Config.MQTTConnectTimeout,
	}

	c.Manager = instance.NewManager(c.newAgent, instance.Options{
		RegistryPath:    c.Config.RegistryPath,
		WriteRegistry:   true,
		Debounce:        c.Config.RegistryDebounce,
		MonitorInterval: c.Config.MonitorInterval,
		MonitorPolicy:   c.Config.MonitorPolicy,
		StopTimeout:     c.Config.StopTimeout,
		Store:           c.Store,
		Logger:          c.Logger,
	})
}

func (c *Container) newAgent(desc models.RobotDescriptor) (instance.Agent, error) {
	rt, err := c.Factory.NewRuntime(desc)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (c *Container) initServers() {
	if c.Config.HTTPAddr != "" {
		api := handlers.NewAPIHandler(c.Manager, c.Files, c.Simulation.Manufacturer, c.Logger)
		if c.Database != nil {
			api.WithRecords(c.Database)
		}
		if c.Redis != nil {
			api.WithStateCache(c.Redis)
		}
		c.APIServer = handlers.NewServer(api, c.Logger)
	}
	if c.Config.MetricsAddr != "" {
		c.OpsServer = &http.Server{
			Addr:         c.Config.MetricsAddr,
			Handler:      handlers.NewOpsRouter(c.Manager.IsRunning, c.Logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	}
}

// Start loads the registry, starts the fleet and begins serving HTTP. A
// malformed registry is logged and the fleet starts empty.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Manager.LoadRegistry(); err != nil {
		c.Logger.Error("Failed to load robot registry", "path", c.Config.RegistryPath, slog.Any("error", err))
	}
	if err := c.Manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start instance manager: %w", err)
	}

	if c.APIServer != nil {
		go func() {
			c.Logger.Info("Starting HTTP server", "addr", c.Config.HTTPAddr)
			if err := c.APIServer.Start(c.Config.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.Logger.Error("HTTP server failed", slog.Any("error", err))
			}
		}()
	}
	if c.OpsServer != nil {
		go func() {
			c.Logger.Info("Starting metrics server", "addr", c.OpsServer.Addr)
			if err := c.OpsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.Logger.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
	}
	return nil
}

// Shutdown stops serving and stops every robot, so each one publishes its
// OFFLINE connection state.
func (c *Container) Shutdown(ctx context.Context) {
	if c.APIServer != nil {
		if err := c.APIServer.Shutdown(ctx); err != nil {
			c.Logger.Warn("HTTP server shutdown error", slog.Any("error", err))
		}
	}
	if c.OpsServer != nil {
		if err := c.OpsServer.Shutdown(ctx); err != nil {
			c.Logger.Warn("Metrics server shutdown error", slog.Any("error", err))
		}
	}
	c.Manager.Stop()
}

// Cleanup releases the storage connections.
func (c *Container) Cleanup() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("Failed to close Redis", slog.Any("error", err))
		}
	}
	if c.Database != nil {
		if err := c.Database.Close(); err != nil {
			c.Logger.Warn("Failed to close database", slog.Any("error", err))
		}
	}
	c.Logger.Info("Container cleanup completed")
}
