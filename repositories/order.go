package repositories

import (
	"encoding/json"
	"fmt"

	"agv-simulator/models"
	"agv-simulator/repositories/interfaces"

	"gorm.io/gorm"
)

// OrderHistoryRepository implements OrderHistoryRepositoryInterface.
type OrderHistoryRepository struct {
	db *gorm.DB
}

func NewOrderHistoryRepository(db *gorm.DB) interfaces.OrderHistoryRepositoryInterface {
	return &OrderHistoryRepository{db: db}
}

func (r *OrderHistoryRepository) SaveOrder(tx *gorm.DB, robotID string, order *models.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to marshal order %s: %w", order.OrderID, err)
	}
	entry := &models.OrderHistory{
		RobotID:       robotID,
		SerialNumber:  order.SerialNumber,
		OrderID:       order.OrderID,
		OrderUpdateID: order.OrderUpdateID,
		NodeCount:     len(order.Nodes),
		EdgeCount:     len(order.Edges),
		Payload:       string(payload),
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to save order history: %w", err)
	}
	return nil
}

func (r *OrderHistoryRepository) GetLatestOrder(robotID string) (*models.OrderHistory, error) {
	return FindLatestByField[models.OrderHistory](r.db, "robot_id", robotID)
}

func (r *OrderHistoryRepository) GetOrderHistory(robotID string, limit int) ([]models.OrderHistory, error) {
	var history []models.OrderHistory
	query := r.db.Where("robot_id = ?", robotID).Order("created_at desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&history).Error; err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	return history, nil
}

func (r *OrderHistoryRepository) DeleteRobot(tx *gorm.DB, robotID string) error {
	return DeleteByField[models.OrderHistory](tx, "robot_id", robotID)
}
