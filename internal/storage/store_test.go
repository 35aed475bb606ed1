package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"agv-simulator/models"
)

type countingStore struct {
	Nop
	purged []string
	err    error
}

func (c *countingStore) Purge(_ context.Context, robotID string) error {
	c.purged = append(c.purged, robotID)
	return c.err
}

func TestMultiFansOut(t *testing.T) {
	a := &countingStore{}
	b := &countingStore{err: errors.New("redis down")}
	m := Multi{a, b}

	err := m.Purge(context.Background(), "r1")
	assert.ErrorContains(t, err, "redis down")
	assert.Equal(t, []string{"r1"}, a.purged)
	assert.Equal(t, []string{"r1"}, b.purged)

	assert.NoError(t, m.SaveState(context.Background(), "r1", models.NewState("2.0.0", "m", "s")))
}

func TestEmptyMulti(t *testing.T) {
	var m Multi
	assert.NoError(t, m.SaveOrder(context.Background(), "r1", &models.Order{}))
	assert.NoError(t, m.Purge(context.Background(), "r1"))
}
