package storage

import (
	"context"
	"errors"

	"agv-simulator/models"
)

// Store is a best-effort side channel for robot snapshots. The simulation
// never depends on what was stored.
type Store interface {
	SaveState(ctx context.Context, robotID string, state *models.State) error
	SaveConnection(ctx context.Context, robotID string, conn *models.Connection) error
	SaveOrder(ctx context.Context, robotID string, order *models.Order) error
	// Purge removes everything stored for a robot.
	Purge(ctx context.Context, robotID string) error
}

// Multi fans every call out to all stores and joins their errors.
type Multi []Store

func (m Multi) SaveState(ctx context.Context, robotID string, state *models.State) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveState(ctx, robotID, state))
	}
	return errors.Join(errs...)
}

func (m Multi) SaveConnection(ctx context.Context, robotID string, conn *models.Connection) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveConnection(ctx, robotID, conn))
	}
	return errors.Join(errs...)
}

func (m Multi) SaveOrder(ctx context.Context, robotID string, order *models.Order) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SaveOrder(ctx, robotID, order))
	}
	return errors.Join(errs...)
}

func (m Multi) Purge(ctx context.Context, robotID string) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Purge(ctx, robotID))
	}
	return errors.Join(errs...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) SaveState(context.Context, string, *models.State) error           { return nil }
func (Nop) SaveConnection(context.Context, string, *models.Connection) error { return nil }
func (Nop) SaveOrder(context.Context, string, *models.Order) error           { return nil }
func (Nop) Purge(context.Context, string) error                              { return nil }
