package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlRecorder keeps every statement gorm builds.
type sqlRecorder struct {
	mu  sync.Mutex
	sql []string
}

func (r *sqlRecorder) LogMode(logger.LogLevel) logger.Interface { return r }
func (r *sqlRecorder) Info(context.Context, string, ...interface{}) {}
func (r *sqlRecorder) Warn(context.Context, string, ...interface{}) {}
func (r *sqlRecorder) Error(context.Context, string, ...interface{}) {}

func (r *sqlRecorder) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	r.mu.Lock()
	r.sql = append(r.sql, sql)
	r.mu.Unlock()
}

func (r *sqlRecorder) last(t *testing.T) string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.sql)
	return r.sql[len(r.sql)-1]
}

// dryRunDB builds statements without a server.
func dryRunDB(t *testing.T) (*gorm.DB, *sqlRecorder) {
	t.Helper()
	rec := &sqlRecorder{}
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=sim dbname=sim sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               rec,
	})
	require.NoError(t, err)
	return db, rec
}

func TestConnectionRepositoryQueries(t *testing.T) {
	db, rec := dryRunDB(t)
	repo := NewConnectionRepository(db)

	_, err := repo.GetLastConnectionState("r1")
	require.NoError(t, err)
	sql := rec.last(t)
	assert.Contains(t, sql, `FROM "connection_states"`)
	assert.Contains(t, sql, `robot_id = 'r1'`)
	assert.Contains(t, sql, `ORDER BY created_at desc`)
	assert.Contains(t, sql, `LIMIT 1`)

	_, err = repo.GetConnectionHistory("r1", 5)
	require.NoError(t, err)
	sql = rec.last(t)
	assert.Contains(t, sql, `FROM "connection_state_histories"`)
	assert.Contains(t, sql, `LIMIT 5`)

	_, err = repo.GetConnectionHistory("r1", 0)
	require.NoError(t, err)
	assert.NotContains(t, rec.last(t), "LIMIT")

	_, err = repo.GetConnectedRobots()
	require.NoError(t, err)
	sql = rec.last(t)
	assert.Contains(t, sql, "DISTINCT")
	assert.Contains(t, sql, `"robot_id"`)
	assert.Contains(t, sql, `connection_state = 'ONLINE'`)
}

func TestOrderHistoryRepositoryQueries(t *testing.T) {
	db, rec := dryRunDB(t)
	repo := NewOrderHistoryRepository(db)

	_, err := repo.GetLatestOrder("r1")
	require.NoError(t, err)
	sql := rec.last(t)
	assert.Contains(t, sql, `FROM "order_histories"`)
	assert.Contains(t, sql, `robot_id = 'r1'`)
	assert.Contains(t, sql, `LIMIT 1`)

	_, err = repo.GetOrderHistory("r1", 3)
	require.NoError(t, err)
	sql = rec.last(t)
	assert.Contains(t, sql, `ORDER BY created_at desc`)
	assert.Contains(t, sql, `LIMIT 3`)
}
