package models

import "encoding/json"

type AgvPosition struct {
	X                   float64 `json:"x"`
	Y                   float64 `json:"y"`
	Theta               float64 `json:"theta"`
	MapID               string  `json:"mapId"`
	MapDescription      string  `json:"mapDescription"`
	PositionInitialized bool    `json:"positionInitialized"`
	LocalizationScore   float64 `json:"localizationScore"`
	DeviationRange      float64 `json:"deviationRange"`
}

func (p *AgvPosition) UnmarshalJSON(data []byte) error {
	var aux struct {
		X                   FlexFloat `json:"x"`
		Y                   FlexFloat `json:"y"`
		Theta               FlexFloat `json:"theta"`
		MapID               string    `json:"mapId"`
		MapDescription      string    `json:"mapDescription"`
		PositionInitialized bool      `json:"positionInitialized"`
		LocalizationScore   FlexFloat `json:"localizationScore"`
		DeviationRange      FlexFloat `json:"deviationRange"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = AgvPosition{
		X:                   float64(aux.X),
		Y:                   float64(aux.Y),
		Theta:               float64(aux.Theta),
		MapID:               aux.MapID,
		MapDescription:      aux.MapDescription,
		PositionInitialized: aux.PositionInitialized,
		LocalizationScore:   float64(aux.LocalizationScore),
		DeviationRange:      float64(aux.DeviationRange),
	}
	return nil
}

type BatteryState struct {
	BatteryCharge  float64  `json:"batteryCharge"`
	BatteryVoltage *float64 `json:"batteryVoltage,omitempty"`
	BatteryHealth  *float64 `json:"batteryHealth,omitempty"`
	Charging       bool     `json:"charging"`
}

func (b *BatteryState) UnmarshalJSON(data []byte) error {
	type alias BatteryState
	var aux struct {
		alias
		BatteryCharge FlexFloat `json:"batteryCharge"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*b = BatteryState(aux.alias)
	b.BatteryCharge = float64(aux.BatteryCharge)
	return nil
}

type SafetyState struct {
	EStop          string `json:"eStop"`
	FieldViolation bool   `json:"fieldViolation"`
}

type Velocity struct {
	Vx    float64 `json:"vx"`
	Vy    float64 `json:"vy"`
	Omega float64 `json:"omega"`
}

type NodeState struct {
	NodeID          string       `json:"nodeId"`
	SequenceID      int          `json:"sequenceId"`
	NodeDescription string       `json:"nodeDescription"`
	Released        bool         `json:"released"`
	NodePosition    *AgvPosition `json:"nodePosition,omitempty"`
}

type EdgeState struct {
	EdgeID          string `json:"edgeId"`
	SequenceID      int    `json:"sequenceId"`
	EdgeDescription string `json:"edgeDescription"`
	Released        bool   `json:"released"`
}

type ActionState struct {
	ActionID          string `json:"actionId"`
	ActionType        string `json:"actionType"`
	ActionDescription string `json:"actionDescription"`
	ActionStatus      string `json:"actionStatus"`
	ResultDescription string `json:"resultDescription,omitempty"`
}

func (a *ActionState) UnmarshalJSON(data []byte) error {
	type alias ActionState
	aux := alias{ActionStatus: ActionWaiting}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ActionStatus == "" {
		aux.ActionStatus = ActionWaiting
	}
	*a = ActionState(aux)
	return nil
}

type ErrorReference struct {
	ReferenceKey   string `json:"referenceKey"`
	ReferenceValue string `json:"referenceValue"`
}

type ErrorEntry struct {
	ErrorType        string           `json:"errorType"`
	ErrorLevel       string           `json:"errorLevel"`
	ErrorDescription string           `json:"errorDescription"`
	ErrorReferences  []ErrorReference `json:"errorReferences,omitempty"`
}

type InfoEntry struct {
	InfoType        string `json:"infoType"`
	InfoLevel       string `json:"infoLevel"`
	InfoDescription string `json:"infoDescription"`
}

// State is the message published on the state channel.
type State struct {
	Header
	OrderID               string        `json:"orderId"`
	OrderUpdateID         int64         `json:"orderUpdateId"`
	LastNodeID            string        `json:"lastNodeId"`
	LastNodeSequenceID    int           `json:"lastNodeSequenceId"`
	Driving               bool          `json:"driving"`
	Paused                bool          `json:"paused"`
	NewBaseRequest        bool          `json:"newBaseRequest"`
	DistanceSinceLastNode float64       `json:"distanceSinceLastNode"`
	OperatingMode         string        `json:"operatingMode"`
	AgvPosition           *AgvPosition  `json:"agvPosition,omitempty"`
	Velocity              Velocity      `json:"velocity"`
	BatteryState          BatteryState  `json:"batteryState"`
	SafetyState           SafetyState   `json:"safetyState"`
	NodeStates            []NodeState   `json:"nodeStates"`
	EdgeStates            []EdgeState   `json:"edgeStates"`
	ActionStates          []ActionState `json:"actionStates"`
	Errors                []ErrorEntry  `json:"errors"`
	Information           []InfoEntry   `json:"information"`
}

// NewState returns an empty state for the given vehicle.
func NewState(version, manufacturer, serialNumber string) *State {
	s := &State{
		Header: Header{
			Version:      version,
			Manufacturer: manufacturer,
			SerialNumber: serialNumber,
		},
		OperatingMode: OperatingModeAutomatic,
		SafetyState:   SafetyState{EStop: "NONE"},
	}
	s.normalize()
	return s
}

func (s *State) normalize() {
	if s.OperatingMode == "" {
		s.OperatingMode = OperatingModeAutomatic
	}
	if s.SafetyState.EStop == "" {
		s.SafetyState.EStop = "NONE"
	}
	if s.NodeStates == nil {
		s.NodeStates = []NodeState{}
	}
	if s.EdgeStates == nil {
		s.EdgeStates = []EdgeState{}
	}
	if s.ActionStates == nil {
		s.ActionStates = []ActionState{}
	}
	if s.Errors == nil {
		s.Errors = []ErrorEntry{}
	}
	if s.Information == nil {
		s.Information = []InfoEntry{}
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *State) Clone() *State {
	c := *s
	if s.AgvPosition != nil {
		p := *s.AgvPosition
		c.AgvPosition = &p
	}
	c.NodeStates = make([]NodeState, len(s.NodeStates))
	for i, ns := range s.NodeStates {
		c.NodeStates[i] = ns
		if ns.NodePosition != nil {
			p := *ns.NodePosition
			c.NodeStates[i].NodePosition = &p
		}
	}
	c.EdgeStates = append([]EdgeState{}, s.EdgeStates...)
	c.ActionStates = append([]ActionState{}, s.ActionStates...)
	c.Errors = append([]ErrorEntry{}, s.Errors...)
	c.Information = append([]InfoEntry{}, s.Information...)
	return &c
}
