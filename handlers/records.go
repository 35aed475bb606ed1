package handlers

import (
	"context"
	"net/http"
	"strconv"

	"agv-simulator/models"
	"agv-simulator/utils"

	"github.com/labstack/echo/v4"
)

const defaultRecordLimit = 50

// Records is the postgres history of the robots.
type Records interface {
	LastConnection(robotID string) (*models.ConnectionStateRecord, error)
	ConnectionHistory(robotID string, limit int) ([]models.ConnectionStateHistory, error)
	ConnectedRobots() ([]string, error)
	LatestOrder(robotID string) (*models.OrderHistory, error)
	OrderHistory(robotID string, limit int) ([]models.OrderHistory, error)
}

// StateCache is the redis snapshot cache of the robots.
type StateCache interface {
	GetState(ctx context.Context, robotID string) (*models.State, error)
	IsRobotOnline(ctx context.Context, robotID string) bool
}

// WithRecords serves the postgres endpoints from r.
func (h *APIHandler) WithRecords(r Records) *APIHandler {
	h.records = r
	return h
}

// WithStateCache serves the cached state endpoint from c.
func (h *APIHandler) WithStateCache(c StateCache) *APIHandler {
	h.cache = c
	return h
}

func (h *APIHandler) registerRecordRoutes(api *echo.Group) {
	api.GET("/robots/:id/state", h.GetCachedState)
	api.GET("/robots/:id/connections", h.GetConnectionHistory)
	api.GET("/robots/:id/orders", h.GetOrderHistory)
	api.GET("/robots/:id/orders/latest", h.GetLatestOrder)
	api.GET("/connections/online", h.ListConnectedRobots)
}

func (h *APIHandler) requireRecords() error {
	if h.records == nil {
		return utils.NewServiceUnavailableError("Database is not enabled", nil)
	}
	return nil
}

func parseLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultRecordLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, utils.NewBadRequestError("limit must be a non-negative integer")
	}
	return limit, nil
}

// GetCachedState returns the last state a robot published, as cached in
// redis, together with its cached connection status.
func (h *APIHandler) GetCachedState(c echo.Context) error {
	if h.cache == nil {
		return utils.NewServiceUnavailableError("State cache is not enabled", nil)
	}
	id := c.Param("id")
	ctx := c.Request().Context()

	state, err := h.cache.GetState(ctx, id)
	if err != nil {
		return toAppError(err)
	}
	data := map[string]interface{}{
		"id":     id,
		"online": h.cache.IsRobotOnline(ctx, id),
		"state":  state,
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Cached state retrieved successfully", data))
}

// GetConnectionHistory returns the current connection row and the newest
// connection changes of a robot.
func (h *APIHandler) GetConnectionHistory(c echo.Context) error {
	if err := h.requireRecords(); err != nil {
		return err
	}
	id := c.Param("id")
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}

	current, err := h.records.LastConnection(id)
	if err != nil {
		return toAppError(err)
	}
	history, err := h.records.ConnectionHistory(id, limit)
	if err != nil {
		return toAppError(err)
	}
	if history == nil {
		history = []models.ConnectionStateHistory{}
	}
	data := map[string]interface{}{
		"current": current,
		"history": utils.CreateListResponse(history, len(history)),
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Connection history retrieved successfully", data))
}

func (h *APIHandler) GetOrderHistory(c echo.Context) error {
	if err := h.requireRecords(); err != nil {
		return err
	}
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}
	orders, err := h.records.OrderHistory(c.Param("id"), limit)
	if err != nil {
		return toAppError(err)
	}
	if orders == nil {
		orders = []models.OrderHistory{}
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Order history retrieved successfully", utils.CreateListResponse(orders, len(orders))))
}

func (h *APIHandler) GetLatestOrder(c echo.Context) error {
	if err := h.requireRecords(); err != nil {
		return err
	}
	order, err := h.records.LatestOrder(c.Param("id"))
	if err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Latest order retrieved successfully", order))
}

// ListConnectedRobots lists the robots postgres last saw ONLINE.
func (h *APIHandler) ListConnectedRobots(c echo.Context) error {
	if err := h.requireRecords(); err != nil {
		return err
	}
	robots, err := h.records.ConnectedRobots()
	if err != nil {
		return toAppError(err)
	}
	if robots == nil {
		robots = []string{}
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Connected robots retrieved successfully", utils.CreateListResponse(robots, len(robots))))
}
