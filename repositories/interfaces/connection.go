package interfaces

import (
	"agv-simulator/models"

	"gorm.io/gorm"
)

// ConnectionRepositoryInterface defines the contract for connection state data access.
type ConnectionRepositoryInterface interface {
	// SaveConnectionState upserts the current state and appends a history row within a transaction.
	SaveConnectionState(tx *gorm.DB, robotID string, conn *models.Connection) error

	GetLastConnectionState(robotID string) (*models.ConnectionStateRecord, error)

	// GetConnectionHistory returns the newest history rows first; limit <= 0 means all.
	GetConnectionHistory(robotID string, limit int) ([]models.ConnectionStateHistory, error)

	GetConnectedRobots() ([]string, error)

	DeleteRobot(tx *gorm.DB, robotID string) error
}
