package database

import (
	"context"

	"gorm.io/gorm"
)

// UnitOfWorkInterface hides transaction handling from the stores.
type UnitOfWorkInterface interface {
	Begin(ctx context.Context) *gorm.DB
	Commit(tx *gorm.DB) error
	Rollback(tx *gorm.DB)
}

type unitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) UnitOfWorkInterface {
	return &unitOfWork{db: db}
}

// Begin starts a transaction bound to ctx.
func (uow *unitOfWork) Begin(ctx context.Context) *gorm.DB {
	return uow.db.WithContext(ctx).Begin()
}

func (uow *unitOfWork) Commit(tx *gorm.DB) error {
	return tx.Commit().Error
}

// Rollback skips transactions that never began.
func (uow *unitOfWork) Rollback(tx *gorm.DB) {
	if tx == nil || tx.Error != nil {
		return
	}
	tx.Rollback()
}
