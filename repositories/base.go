package repositories

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// FindLatestByField finds the newest record of type T by a specific field.
func FindLatestByField[T any](db *gorm.DB, fieldName string, value interface{}) (*T, error) {
	var result T
	err := db.Where(fmt.Sprintf("%s = ?", fieldName), value).Order("created_at desc").First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%T with %s '%v': %w", *new(T), fieldName, value, err)
		}
		return nil, fmt.Errorf("failed to get %T by %s: %w", *new(T), fieldName, err)
	}
	return &result, nil
}

// DeleteByField removes every record of type T matching a field.
func DeleteByField[T any](tx *gorm.DB, fieldName string, value interface{}) error {
	if err := tx.Where(fmt.Sprintf("%s = ?", fieldName), value).Delete(new(T)).Error; err != nil {
		return fmt.Errorf("failed to delete %T by %s: %w", *new(T), fieldName, err)
	}
	return nil
}
