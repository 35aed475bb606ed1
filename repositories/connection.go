package repositories

import (
	"fmt"

	"agv-simulator/models"
	"agv-simulator/repositories/interfaces"

	"gorm.io/gorm"
)

// ConnectionRepository implements ConnectionRepositoryInterface.
type ConnectionRepository struct {
	db *gorm.DB
}

func NewConnectionRepository(db *gorm.DB) interfaces.ConnectionRepositoryInterface {
	return &ConnectionRepository{
		db: db,
	}
}

// SaveConnectionState saves or updates the connection state for a robot within a transaction.
func (cr *ConnectionRepository) SaveConnectionState(tx *gorm.DB, robotID string, conn *models.Connection) error {
	// 1. Upsert the current connection state.
	record := &models.ConnectionStateRecord{
		RobotID:         robotID,
		SerialNumber:    conn.SerialNumber,
		ConnectionState: string(conn.ConnectionState),
		HeaderID:        conn.HeaderID,
		Timestamp:       conn.Timestamp,
		Version:         conn.Version,
		Manufacturer:    conn.Manufacturer,
	}
	if err := tx.Where("robot_id = ?", robotID).Assign(record).FirstOrCreate(record).Error; err != nil {
		return fmt.Errorf("failed to save connection state: %w", err)
	}

	// 2. Always create a new record in the history table.
	history := &models.ConnectionStateHistory{
		RobotID:         robotID,
		SerialNumber:    conn.SerialNumber,
		ConnectionState: string(conn.ConnectionState),
		HeaderID:        conn.HeaderID,
		Timestamp:       conn.Timestamp,
		Version:         conn.Version,
		Manufacturer:    conn.Manufacturer,
	}
	if err := tx.Create(history).Error; err != nil {
		return fmt.Errorf("failed to save connection history: %w", err)
	}

	return nil
}

func (cr *ConnectionRepository) GetLastConnectionState(robotID string) (*models.ConnectionStateRecord, error) {
	return FindLatestByField[models.ConnectionStateRecord](cr.db, "robot_id", robotID)
}

func (cr *ConnectionRepository) GetConnectionHistory(robotID string, limit int) ([]models.ConnectionStateHistory, error) {
	var history []models.ConnectionStateHistory
	query := cr.db.Where("robot_id = ?", robotID).Order("created_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&history).Error; err != nil {
		return nil, fmt.Errorf("failed to get connection history: %w", err)
	}
	return history, nil
}

// GetConnectedRobots retrieves all robots with ONLINE connection state.
func (cr *ConnectionRepository) GetConnectedRobots() ([]string, error) {
	var robots []string
	err := cr.db.Model(&models.ConnectionStateRecord{}).
		Where("connection_state = ?", string(models.ConnectionOnline)).
		Distinct().Pluck("robot_id", &robots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get connected robots: %w", err)
	}
	return robots, nil
}

func (cr *ConnectionRepository) DeleteRobot(tx *gorm.DB, robotID string) error {
	if err := DeleteByField[models.ConnectionStateRecord](tx, "robot_id", robotID); err != nil {
		return err
	}
	return DeleteByField[models.ConnectionStateHistory](tx, "robot_id", robotID)
}
