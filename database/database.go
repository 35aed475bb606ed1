package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"agv-simulator/config"
	"agv-simulator/models"
	"agv-simulator/repositories"
	"agv-simulator/repositories/interfaces"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormLogger adapts slog to be used as a GORM logger.
type gormLogger struct {
	slogger       *slog.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	copied := *l
	copied.level = level
	return &copied
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		l.slogger.InfoContext(ctx, msg, "gorm_data", data)
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		l.slogger.WarnContext(ctx, msg, "gorm_data", data)
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		l.slogger.ErrorContext(ctx, msg, "gorm_data", data)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	attrs := []slog.Attr{
		slog.String("latency", elapsed.String()),
		slog.String("sql", sql),
		slog.Int64("rows_affected", rows),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		attrs = append(attrs, slog.Any("error", err))
		l.slogger.LogAttrs(ctx, slog.LevelError, "GORM Trace", attrs...)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= logger.Warn:
		l.slogger.LogAttrs(ctx, slog.LevelWarn, "GORM slow query", attrs...)
	default:
		l.slogger.LogAttrs(ctx, slog.LevelDebug, "GORM Trace", attrs...)
	}
}

// Database keeps the connection and order history of simulated robots.
type Database struct {
	DB               *gorm.DB
	UoW              UnitOfWorkInterface
	ConnectionRepo   interfaces.ConnectionRepositoryInterface
	OrderHistoryRepo interfaces.OrderHistoryRepositoryInterface
	logger           *slog.Logger
}

func NewDatabase(cfg *config.Config, appLogger *slog.Logger) (*Database, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	dbLogger := appLogger.With("component", "database")
	dbLogger.Info("Connecting to database...", "host", cfg.DBHost, "port", cfg.DBPort, "user", cfg.DBUser)

	gl := &gormLogger{slogger: dbLogger, slowThreshold: 200 * time.Millisecond}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gl.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	dbLogger.Info("Database connected successfully")

	return newDatabase(db, dbLogger)
}

func newDatabase(db *gorm.DB, dbLogger *slog.Logger) (*Database, error) {
	dbLogger.Info("Starting database migration...")
	if err := db.AutoMigrate(
		&models.ConnectionStateRecord{}, &models.ConnectionStateHistory{},
		&models.OrderHistory{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	dbLogger.Info("Database migration completed successfully")

	return &Database{
		DB:               db,
		UoW:              NewUnitOfWork(db),
		ConnectionRepo:   repositories.NewConnectionRepository(db),
		OrderHistoryRepo: repositories.NewOrderHistoryRepository(db),
		logger:           dbLogger,
	}, nil
}

func (d *Database) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := d.UoW.Begin(ctx)
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			d.UoW.Rollback(tx)
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		d.UoW.Rollback(tx)
		return err
	}
	if err := d.UoW.Commit(tx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SaveState is a no-op: per-tick states go to redis and files only.
func (d *Database) SaveState(ctx context.Context, robotID string, state *models.State) error {
	return nil
}

func (d *Database) SaveConnection(ctx context.Context, robotID string, conn *models.Connection) error {
	return d.inTx(ctx, func(tx *gorm.DB) error {
		return d.ConnectionRepo.SaveConnectionState(tx, robotID, conn)
	})
}

func (d *Database) SaveOrder(ctx context.Context, robotID string, order *models.Order) error {
	return d.inTx(ctx, func(tx *gorm.DB) error {
		return d.OrderHistoryRepo.SaveOrder(tx, robotID, order)
	})
}

// Purge deletes the connection and order history of a robot.
func (d *Database) Purge(ctx context.Context, robotID string) error {
	err := d.inTx(ctx, func(tx *gorm.DB) error {
		if err := d.ConnectionRepo.DeleteRobot(tx, robotID); err != nil {
			return err
		}
		return d.OrderHistoryRepo.DeleteRobot(tx, robotID)
	})
	if err != nil {
		return err
	}
	d.logger.Info("Purged robot history", "robotId", robotID)
	return nil
}

// LastConnection is the current connection row of a robot. A robot with no
// row yields an error wrapping gorm.ErrRecordNotFound.
func (d *Database) LastConnection(robotID string) (*models.ConnectionStateRecord, error) {
	return d.ConnectionRepo.GetLastConnectionState(robotID)
}

// ConnectionHistory lists connection changes newest first.
func (d *Database) ConnectionHistory(robotID string, limit int) ([]models.ConnectionStateHistory, error) {
	return d.ConnectionRepo.GetConnectionHistory(robotID, limit)
}

// ConnectedRobots lists the robots whose last connection state is ONLINE.
func (d *Database) ConnectedRobots() ([]string, error) {
	return d.ConnectionRepo.GetConnectedRobots()
}

func (d *Database) LatestOrder(robotID string) (*models.OrderHistory, error) {
	return d.OrderHistoryRepo.GetLatestOrder(robotID)
}

// OrderHistory lists accepted orders newest first.
func (d *Database) OrderHistory(robotID string, limit int) ([]models.OrderHistory, error) {
	return d.OrderHistoryRepo.GetOrderHistory(robotID, limit)
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
