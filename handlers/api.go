package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"agv-simulator/internal/instance"
	"agv-simulator/models"
	"agv-simulator/utils"

	"github.com/labstack/echo/v4"
)

// Fleet is the part of the instance manager the API drives.
type Fleet interface {
	Add(desc models.RobotDescriptor) error
	Remove(id string) error
	Update(id string, desc models.RobotDescriptor) error
	Descriptor(id string) (models.RobotDescriptor, error)
	StartRobot(ctx context.Context, id string) error
	StopRobot(id string) error
	RestartRobot(ctx context.Context, id string) error
	StartAll(ctx context.Context) int
	StopAll() int
	Status(id string) (instance.StatusEntry, error)
	StatusAll() instance.FleetStatus
	SendOrder(id string, payload []byte) error
	SendInstantActions(id string, payload []byte) error
	LoadRegistry() error
	Count() int
}

// History returns the persisted event history of a robot, oldest first.
type History interface {
	History(robotID string) ([]json.RawMessage, error)
}

// APIHandler serves the REST surface of the simulator.
type APIHandler struct {
	fleet               Fleet
	history             History
	records             Records
	cache               StateCache
	defaultManufacturer string
	logger              *slog.Logger
}

// NewAPIHandler creates a new instance of APIHandler. history may be nil.
func NewAPIHandler(fleet Fleet, history History, defaultManufacturer string, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{
		fleet:               fleet,
		history:             history,
		defaultManufacturer: defaultManufacturer,
		logger:              logger.With("component", "api_handler"),
	}
}

// RegisterRoutes mounts every endpoint under /api/v1.
func (h *APIHandler) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1")

	api.GET("/health", h.HealthCheck)
	api.GET("/status", h.GetSystemStatus)
	api.GET("/routes", h.ListRoutes)

	api.GET("/robots", h.ListRobots)
	api.POST("/robots", h.CreateRobot)
	api.GET("/robots/:id", h.GetRobot)
	api.PUT("/robots/:id", h.UpdateRobot)
	api.DELETE("/robots/:id", h.DeleteRobot)
	api.GET("/robots/:id/config", h.GetRobotConfig)

	api.POST("/robots/:id/start", h.StartRobot)
	api.POST("/robots/:id/stop", h.StopRobot)
	api.POST("/robots/:id/restart", h.RestartRobot)

	api.POST("/robots/:id/orders", h.SendOrder)
	api.GET("/robots/:id/history", h.GetHistory)
	api.POST("/robots/:id/instant-actions", h.SendInstantActions)
	api.POST("/robots/:id/init-position", h.InitPosition)

	api.POST("/system/start-all", h.StartAll)
	api.POST("/system/stop-all", h.StopAll)
	api.POST("/system/reload", h.ReloadRegistry)

	h.registerRecordRoutes(api)
}

// ===================================================================
// SYSTEM
// ===================================================================

// HealthCheck provides a simple health status of the service.
func (h *APIHandler) HealthCheck(c echo.Context) error {
	data := map[string]interface{}{
		"service":   "agv-simulator",
		"timestamp": utils.GetUnixTimestamp(),
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Service is healthy", data))
}

func (h *APIHandler) GetSystemStatus(c echo.Context) error {
	fleet := h.fleet.StatusAll()
	data := map[string]interface{}{
		"managerRunning": fleet.ManagerRunning,
		"total":          fleet.Total,
		"running":        fleet.Running,
		"timestamp":      utils.GetUnixTimestamp(),
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("System status retrieved successfully", data))
}

type routeInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// ListRoutes lists every registered endpoint.
func (h *APIHandler) ListRoutes(c echo.Context) error {
	routes := make([]routeInfo, 0)
	for _, r := range c.Echo().Routes() {
		routes = append(routes, routeInfo{Method: r.Method, Path: r.Path})
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Routes retrieved successfully", utils.CreateListResponse(routes, len(routes))))
}

// StartAll starts every registered robot. failed counts the robots that
// did not start.
func (h *APIHandler) StartAll(c echo.Context) error {
	failed := h.fleet.StartAll(c.Request().Context())
	message := "Robots started"
	if failed > 0 {
		message = "Some robots failed to start"
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse(message, map[string]int{"total": h.fleet.Count(), "failed": failed}))
}

func (h *APIHandler) StopAll(c echo.Context) error {
	failed := h.fleet.StopAll()
	message := "Robots stopped"
	if failed > 0 {
		message = "Some robots did not stop cleanly"
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse(message, map[string]int{"total": h.fleet.Count(), "failed": failed}))
}

// ReloadRegistry reconciles the fleet with the registry file now.
func (h *APIHandler) ReloadRegistry(c echo.Context) error {
	if err := h.fleet.LoadRegistry(); err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Registry reloaded", map[string]int{"robots": h.fleet.Count()}))
}

// ===================================================================
// ROBOT MANAGEMENT
// ===================================================================

func (h *APIHandler) ListRobots(c echo.Context) error {
	return c.JSON(http.StatusOK, utils.SuccessResponse("Robots retrieved successfully", h.fleet.StatusAll()))
}

// CreateRobot registers a robot. A missing serial number is generated and a
// missing manufacturer falls back to the simulation default.
func (h *APIHandler) CreateRobot(c echo.Context) error {
	var desc models.RobotDescriptor
	if err := decodeBody(c, &desc); err != nil {
		return err
	}
	if desc.SerialNumber == "" {
		desc.SerialNumber = utils.GenerateSerialNumber()
	}
	if desc.Manufacturer == "" {
		desc.Manufacturer = h.defaultManufacturer
	}

	if err := h.fleet.Add(desc); err != nil {
		return toAppError(err)
	}
	h.logger.Info("Robot created via API", "robotId", desc.Identity(), "serialNumber", desc.SerialNumber)
	return c.JSON(http.StatusCreated, utils.SuccessResponse("Robot created successfully", desc))
}

func (h *APIHandler) GetRobot(c echo.Context) error {
	entry, err := h.fleet.Status(c.Param("id"))
	if err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Robot status retrieved successfully", entry))
}

func (h *APIHandler) GetRobotConfig(c echo.Context) error {
	desc, err := h.fleet.Descriptor(c.Param("id"))
	if err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Robot config retrieved successfully", desc))
}

// UpdateRobot applies a new descriptor to a running robot. The body may
// omit the id; the path decides which robot is updated.
func (h *APIHandler) UpdateRobot(c echo.Context) error {
	id := c.Param("id")
	var desc models.RobotDescriptor
	if err := decodeBody(c, &desc); err != nil {
		return err
	}

	current, err := h.fleet.Descriptor(id)
	if err != nil {
		return toAppError(err)
	}
	if desc.ID == "" {
		desc.ID = current.ID
	}
	if desc.SerialNumber == "" {
		desc.SerialNumber = current.SerialNumber
	}
	if desc.Manufacturer == "" {
		desc.Manufacturer = current.Manufacturer
	}

	if err := h.fleet.Update(id, desc); err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Robot updated successfully", desc))
}

func (h *APIHandler) DeleteRobot(c echo.Context) error {
	id := c.Param("id")
	if err := h.fleet.Remove(id); err != nil {
		return toAppError(err)
	}
	h.logger.Info("Robot removed via API", "robotId", id)
	return c.JSON(http.StatusOK, utils.SuccessResponse("Robot removed successfully", map[string]string{"id": id}))
}

// ===================================================================
// ROBOT CONTROL
// ===================================================================

func (h *APIHandler) StartRobot(c echo.Context) error {
	id := c.Param("id")
	if err := h.fleet.StartRobot(c.Request().Context(), id); err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Robot started", map[string]string{"id": id}))
}

func (h *APIHandler) StopRobot(c echo.Context) error {
	id := c.Param("id")
	if err := h.fleet.StopRobot(id); err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Robot stopped", map[string]string{"id": id}))
}

func (h *APIHandler) RestartRobot(c echo.Context) error {
	id := c.Param("id")
	if err := h.fleet.RestartRobot(c.Request().Context(), id); err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Robot restarted", map[string]string{"id": id}))
}

// SendOrder publishes the request body as an order on the robot's topic.
func (h *APIHandler) SendOrder(c echo.Context) error {
	id := c.Param("id")
	payload, err := readBody(c)
	if err != nil {
		return err
	}
	if err := h.fleet.SendOrder(id, payload); err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusAccepted, utils.SuccessResponse("Order sent", map[string]string{"id": id}))
}

func (h *APIHandler) SendInstantActions(c echo.Context) error {
	id := c.Param("id")
	payload, err := readBody(c)
	if err != nil {
		return err
	}
	if err := h.fleet.SendInstantActions(id, payload); err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusAccepted, utils.SuccessResponse("Instant actions sent", map[string]string{"id": id}))
}

// InitPositionRequest is the shorthand body of the init-position endpoint.
type InitPositionRequest struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Theta      float64 `json:"theta"`
	MapID      string  `json:"mapId"`
	LastNodeID string  `json:"lastNodeId"`
}

// InitPosition wraps the body into a single initPosition instant action.
func (h *APIHandler) InitPosition(c echo.Context) error {
	id := c.Param("id")
	var req InitPositionRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}

	params := []models.ActionParameter{
		{Key: "x", Value: req.X},
		{Key: "y", Value: req.Y},
		{Key: "theta", Value: req.Theta},
	}
	if req.MapID != "" {
		params = append(params, models.ActionParameter{Key: "mapId", Value: req.MapID})
	}
	if req.LastNodeID != "" {
		params = append(params, models.ActionParameter{Key: "lastNodeId", Value: req.LastNodeID})
	}
	actionID := utils.GenerateActionID()
	payload, err := models.Encode(&models.InstantActions{
		Actions: []models.Action{{
			ActionID:         actionID,
			ActionType:       models.ActionTypeInitPosition,
			BlockingType:     models.BlockingHard,
			ActionParameters: params,
		}},
	})
	if err != nil {
		return utils.NewInternalServerError("Failed to encode instant actions", err)
	}

	if err := h.fleet.SendInstantActions(id, payload); err != nil {
		return toAppError(err)
	}
	return c.JSON(http.StatusAccepted, utils.SuccessResponse("Init position sent", map[string]string{"id": id, "actionId": actionID}))
}

// GetHistory lists the recorded state, connection and order events.
func (h *APIHandler) GetHistory(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.fleet.Descriptor(id); err != nil {
		return toAppError(err)
	}

	entries := []json.RawMessage{}
	if h.history != nil {
		hist, err := h.history.History(id)
		if err != nil {
			return utils.NewInternalServerError("Failed to read robot history", err)
		}
		if hist != nil {
			entries = hist
		}
	}
	return c.JSON(http.StatusOK, utils.SuccessResponse("Robot history retrieved successfully", utils.CreateListResponse(entries, len(entries))))
}

func readBody(c echo.Context) ([]byte, error) {
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, utils.NewBadRequestError("Failed to read request body", err)
	}
	if len(payload) == 0 {
		return nil, utils.NewBadRequestError("Request body is required")
	}
	return payload, nil
}

func decodeBody(c echo.Context, v interface{}) error {
	payload, err := readBody(c)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return utils.NewBadRequestError("Invalid request body", err)
	}
	return nil
}
