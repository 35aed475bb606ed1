package simulator

import (
	"log/slog"
	"math"

	"agv-simulator/models"
)

// ArrivalThreshold is the distance below which a node counts as reached.
const ArrivalThreshold = 0.1

// Phase is the order-processing phase of one agent.
type Phase string

const (
	PhaseIdle           Phase = "IDLE"
	PhaseHasOrder       Phase = "HAS_ORDER"
	PhaseMovingToTarget Phase = "MOVING_TO_TARGET"
	PhaseArrived        Phase = "ARRIVED"
)

// Settings is the static part of an engine's configuration.
type Settings struct {
	Manufacturer string
	SerialNumber string
	Version      string // full protocol version put in message headers
	MapID        string
	X            float64
	Y            float64
	Theta        float64
	Battery      float64
	Speed        float64 // distance moved per tick
	Logger       *slog.Logger
}

// Engine holds the simulated state of one AGV. It is not safe for
// concurrent use; the owning runtime serializes every call.
type Engine struct {
	state         *models.State
	visualization models.Visualization

	order   *models.Order
	pending []models.Action
	phase   Phase
	speed   float64

	logger *slog.Logger
}

func New(s Settings) *Engine {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := s.Version
	if version == "" {
		version = models.DefaultFullVersion
	}
	battery := s.Battery
	if battery <= 0 {
		battery = 100
	}

	header := models.Header{Version: version, Manufacturer: s.Manufacturer, SerialNumber: s.SerialNumber}
	state := models.NewState(version, s.Manufacturer, s.SerialNumber)
	state.Timestamp = models.Timestamp()
	state.AgvPosition = &models.AgvPosition{
		X:                   s.X,
		Y:                   s.Y,
		Theta:               s.Theta,
		MapID:               s.MapID,
		PositionInitialized: true,
		LocalizationScore:   1,
	}
	state.BatteryState.BatteryCharge = battery

	e := &Engine{
		state:         state,
		visualization: models.Visualization{Header: header},
		phase:         PhaseIdle,
		speed:         s.Speed,
		logger:        logger,
	}
	e.syncVisualization()
	return e
}

// AcceptOrder replaces the current order. Progress on the previous order is
// discarded and all tracking lists are rebuilt from the new one.
func (e *Engine) AcceptOrder(order *models.Order) {
	if order == nil {
		return
	}
	e.order = order
	e.phase = PhaseHasOrder
	e.state.OrderID = order.OrderID
	e.state.OrderUpdateID = order.OrderUpdateID

	e.state.NodeStates = make([]models.NodeState, 0, len(order.Nodes))
	e.state.EdgeStates = make([]models.EdgeState, 0, len(order.Edges))
	e.state.ActionStates = make([]models.ActionState, 0)

	for _, node := range order.Nodes {
		ns := models.NodeState{
			NodeID:          node.NodeID,
			SequenceID:      node.SequenceID,
			NodeDescription: node.NodeDescription,
			Released:        node.Released,
		}
		if node.NodePosition != nil {
			ns.NodePosition = &models.AgvPosition{
				X:     node.NodePosition.X,
				Y:     node.NodePosition.Y,
				Theta: node.NodePosition.Theta,
				MapID: node.NodePosition.MapID,
			}
		}
		e.state.NodeStates = append(e.state.NodeStates, ns)
		e.addActionStates(node.Actions)
	}
	for _, edge := range order.Edges {
		e.state.EdgeStates = append(e.state.EdgeStates, models.EdgeState{
			EdgeID:          edge.EdgeID,
			SequenceID:      edge.SequenceID,
			EdgeDescription: edge.EdgeDescription,
			Released:        edge.Released,
		})
		e.addActionStates(edge.Actions)
	}

	e.logger.Info("Order accepted",
		"orderId", order.OrderID,
		"orderUpdateId", order.OrderUpdateID,
		"nodes", len(order.Nodes),
		"edges", len(order.Edges))
}

// AcceptInstantActions queues actions for the next tick.
func (e *Engine) AcceptInstantActions(ia *models.InstantActions) {
	if ia == nil {
		return
	}
	e.pending = append(e.pending, ia.Actions...)
	e.addActionStates(ia.Actions)
	e.logger.Info("Instant actions accepted", "count", len(ia.Actions))
}

func (e *Engine) addActionStates(actions []models.Action) {
	for _, a := range actions {
		e.state.ActionStates = append(e.state.ActionStates, models.ActionState{
			ActionID:          a.ActionID,
			ActionType:        a.ActionType,
			ActionDescription: a.ActionDescription,
			ActionStatus:      models.ActionWaiting,
		})
	}
}

// Tick advances the simulation by one step.
func (e *Engine) Tick() {
	e.state.HeaderID++
	e.state.Timestamp = models.Timestamp()

	e.drainInstantActions()

	if e.order != nil {
		e.processOrder()
	}
	e.syncVisualization()
}

func (e *Engine) drainInstantActions() {
	if len(e.pending) == 0 {
		return
	}
	for i := range e.pending {
		action := &e.pending[i]
		switch action.ActionType {
		case models.ActionTypeInitPosition:
			e.initPosition(action)
			e.setActionStatus(action.ActionID, models.ActionFinished, "")
		default:
			e.logger.Warn("Unsupported instant action", "actionId", action.ActionID, "actionType", action.ActionType)
			e.setActionStatus(action.ActionID, models.ActionFailed, "unsupported action type")
		}
	}
	e.pending = nil
}

func (e *Engine) initPosition(action *models.Action) {
	params := make(map[string]interface{}, len(action.ActionParameters))
	for _, p := range action.ActionParameters {
		params[p.Key] = p.Value
	}
	// Some clients nest the pose in a single "pose" parameter.
	if pose, ok := params["pose"].(map[string]interface{}); ok {
		for k, v := range pose {
			if _, set := params[k]; !set {
				params[k] = v
			}
		}
	}

	x, _ := models.ParamFloat(params["x"])
	y, _ := models.ParamFloat(params["y"])
	theta, _ := models.ParamFloat(params["theta"])
	mapID := models.ParamString(params["mapId"])
	lastNodeID := models.ParamString(params["lastNodeId"])

	if e.state.AgvPosition == nil {
		e.state.AgvPosition = &models.AgvPosition{}
	}
	e.state.AgvPosition.X = x
	e.state.AgvPosition.Y = y
	e.state.AgvPosition.Theta = theta
	e.state.AgvPosition.MapID = mapID
	e.state.AgvPosition.PositionInitialized = true
	e.state.LastNodeID = lastNodeID

	e.logger.Info("Position initialized",
		"actionId", action.ActionID,
		"x", x, "y", y, "theta", theta,
		"mapId", mapID,
		"lastNodeId", lastNodeID)
}

func (e *Engine) setActionStatus(actionID string, status, result string) {
	for i := len(e.state.ActionStates) - 1; i >= 0; i-- {
		as := &e.state.ActionStates[i]
		if as.ActionID == actionID && as.ActionStatus == models.ActionWaiting {
			as.ActionStatus = status
			as.ResultDescription = result
			return
		}
	}
}

// processOrder moves toward the first node of the order. The engine never
// advances past that node.
func (e *Engine) processOrder() {
	pos := e.state.AgvPosition
	if len(e.state.NodeStates) == 0 || pos == nil || !pos.PositionInitialized {
		return
	}
	target := e.state.NodeStates[0]
	if target.NodePosition == nil {
		return
	}

	dx := target.NodePosition.X - pos.X
	dy := target.NodePosition.Y - pos.Y
	distance := math.Hypot(dx, dy)

	if distance < ArrivalThreshold {
		if e.phase != PhaseArrived {
			e.logger.Info("Node reached", "nodeId", target.NodeID, "sequenceId", target.SequenceID)
		}
		e.state.LastNodeID = target.NodeID
		e.state.LastNodeSequenceID = target.SequenceID
		e.state.Driving = false
		e.state.DistanceSinceLastNode = 0
		e.phase = PhaseArrived
		return
	}

	if distance == 0 || math.IsNaN(distance) || math.IsInf(distance, 0) {
		e.state.Driving = false
		return
	}
	dx /= distance
	dy /= distance

	step := e.speed
	// clamp so the robot lands on the node instead of overshooting it
	if step > distance {
		step = distance
	}
	pos.X += dx * step
	pos.Y += dy * step
	e.state.Driving = true
	e.state.DistanceSinceLastNode += step
	e.phase = PhaseMovingToTarget
}

func (e *Engine) syncVisualization() {
	if e.state.AgvPosition == nil {
		e.visualization.AgvPosition = nil
		return
	}
	p := *e.state.AgvPosition
	e.visualization.AgvPosition = &p
}

// SetPose overwrites the position in place and marks it initialized.
func (e *Engine) SetPose(x, y, theta float64, mapID string) {
	if e.state.AgvPosition == nil {
		e.state.AgvPosition = &models.AgvPosition{}
	}
	e.state.AgvPosition.X = x
	e.state.AgvPosition.Y = y
	e.state.AgvPosition.Theta = theta
	if mapID != "" {
		e.state.AgvPosition.MapID = mapID
	}
	e.state.AgvPosition.PositionInitialized = true
	e.syncVisualization()
}

func (e *Engine) SetSpeed(speed float64) {
	if speed < 0 || math.IsNaN(speed) {
		return
	}
	e.speed = speed
}

func (e *Engine) SetBattery(charge float64) {
	if charge < 0 || math.IsNaN(charge) {
		return
	}
	if charge > 100 {
		charge = 100
	}
	e.state.BatteryState.BatteryCharge = charge
}

// StateMessage returns a copy of the current state for publishing.
func (e *Engine) StateMessage() *models.State {
	return e.state.Clone()
}

// VisualizationMessage returns a copy of the visualization message. With
// bump the visualization stream's header id is advanced first.
func (e *Engine) VisualizationMessage(bump bool) models.Visualization {
	if bump {
		e.visualization.HeaderID++
		e.visualization.Timestamp = models.Timestamp()
	}
	v := e.visualization
	if v.AgvPosition != nil {
		p := *v.AgvPosition
		v.AgvPosition = &p
	}
	return v
}

func (e *Engine) Phase() Phase {
	return e.phase
}

func (e *Engine) CurrentOrderID() string {
	if e.order == nil {
		return ""
	}
	return e.order.OrderID
}

// Position returns a copy of the current position, or nil.
func (e *Engine) Position() *models.AgvPosition {
	if e.state.AgvPosition == nil {
		return nil
	}
	p := *e.state.AgvPosition
	return &p
}

func (e *Engine) Battery() float64 {
	return e.state.BatteryState.BatteryCharge
}

func (e *Engine) Driving() bool {
	return e.state.Driving
}

func (e *Engine) HeaderID() int64 {
	return e.state.HeaderID
}

func (e *Engine) PendingActions() int {
	return len(e.pending)
}
