package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"agv-simulator/config"
	"agv-simulator/models"

	"github.com/go-redis/redis/v8"
)

const snapshotTTL = 24 * time.Hour

// ErrNotCached reports a robot with no cached snapshot.
var ErrNotCached = errors.New("no cached snapshot")

func stateKey(robotID string) string      { return fmt.Sprintf("robot:state:%s", robotID) }
func connectionKey(robotID string) string { return fmt.Sprintf("robot:connection:%s", robotID) }
func orderKey(robotID string) string      { return fmt.Sprintf("robot:order:%s", robotID) }

// RedisClient caches the latest snapshots of every simulated robot.
type RedisClient struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// Test connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger = logger.With("component", "redis")
	logger.Info("Redis connected successfully", "addr", rdb.Options().Addr)
	return &RedisClient{client: rdb, logger: logger}, nil
}

func (r *RedisClient) set(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to save %s to Redis: %w", key, err)
	}
	return nil
}

func (r *RedisClient) SaveState(ctx context.Context, robotID string, state *models.State) error {
	return r.set(ctx, stateKey(robotID), state)
}

func (r *RedisClient) GetState(ctx context.Context, robotID string) (*models.State, error) {
	val, err := r.client.Get(ctx, stateKey(robotID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("state of robot %s: %w", robotID, ErrNotCached)
		}
		return nil, fmt.Errorf("failed to get state from Redis: %w", err)
	}
	return models.DecodeState(val)
}

func (r *RedisClient) SaveConnection(ctx context.Context, robotID string, conn *models.Connection) error {
	return r.set(ctx, connectionKey(robotID), conn)
}

func (r *RedisClient) GetConnectionStatus(ctx context.Context, robotID string) (models.ConnectionState, error) {
	val, err := r.client.Get(ctx, connectionKey(robotID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("connection status of robot %s: %w", robotID, ErrNotCached)
		}
		return "", fmt.Errorf("failed to get connection status from Redis: %w", err)
	}
	conn, err := models.DecodeConnection(val)
	if err != nil {
		return "", err
	}
	return conn.ConnectionState, nil
}

func (r *RedisClient) IsRobotOnline(ctx context.Context, robotID string) bool {
	status, err := r.GetConnectionStatus(ctx, robotID)
	if err != nil {
		return false
	}
	return status == models.ConnectionOnline
}

func (r *RedisClient) SaveOrder(ctx context.Context, robotID string, order *models.Order) error {
	return r.set(ctx, orderKey(robotID), order)
}

// Purge deletes every key of a robot.
func (r *RedisClient) Purge(ctx context.Context, robotID string) error {
	if err := r.client.Del(ctx, stateKey(robotID), connectionKey(robotID), orderKey(robotID)).Err(); err != nil {
		return fmt.Errorf("failed to purge robot %s from Redis: %w", robotID, err)
	}
	r.logger.Debug("Purged robot keys", "robotId", robotID)
	return nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
