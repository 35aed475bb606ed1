package interfaces

import (
	"agv-simulator/models"

	"gorm.io/gorm"
)

// OrderHistoryRepositoryInterface defines the contract for accepted order history.
type OrderHistoryRepositoryInterface interface {
	SaveOrder(tx *gorm.DB, robotID string, order *models.Order) error
	GetLatestOrder(robotID string) (*models.OrderHistory, error)
	GetOrderHistory(robotID string, limit int) ([]models.OrderHistory, error)
	DeleteRobot(tx *gorm.DB, robotID string) error
}
