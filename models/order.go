package models

import (
	"encoding/json"
	"fmt"
)

type ActionParameter struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

type Action struct {
	ActionID          string            `json:"actionId"`
	ActionType        string            `json:"actionType"`
	BlockingType      BlockingType      `json:"blockingType"`
	ActionDescription string            `json:"actionDescription"`
	ActionParameters  []ActionParameter `json:"actionParameters"`
}

func (a *Action) UnmarshalJSON(data []byte) error {
	type alias Action
	aux := alias{BlockingType: BlockingNone}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.BlockingType == "" {
		aux.BlockingType = BlockingNone
	}
	if aux.ActionParameters == nil {
		aux.ActionParameters = []ActionParameter{}
	}
	*a = Action(aux)
	return nil
}

// Param returns the value of the parameter with the given key.
func (a *Action) Param(key string) (interface{}, bool) {
	for _, p := range a.ActionParameters {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

type NodePosition struct {
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Theta          float64 `json:"theta"`
	MapID          string  `json:"mapId"`
	MapDescription string  `json:"mapDescription"`
}

func (p *NodePosition) UnmarshalJSON(data []byte) error {
	var aux struct {
		X              FlexFloat `json:"x"`
		Y              FlexFloat `json:"y"`
		Theta          FlexFloat `json:"theta"`
		MapID          string    `json:"mapId"`
		MapDescription string    `json:"mapDescription"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = NodePosition{
		X:              float64(aux.X),
		Y:              float64(aux.Y),
		Theta:          float64(aux.Theta),
		MapID:          aux.MapID,
		MapDescription: aux.MapDescription,
	}
	return nil
}

type Node struct {
	NodeID          string        `json:"nodeId"`
	SequenceID      int           `json:"sequenceId"`
	NodeDescription string        `json:"nodeDescription"`
	Released        bool          `json:"released"`
	NodePosition    *NodePosition `json:"nodePosition,omitempty"`
	Actions         []Action      `json:"actions"`
}

// Edge is carried for protocol fidelity; the simulator does not move along edges.
type Edge struct {
	EdgeID          string          `json:"edgeId"`
	SequenceID      int             `json:"sequenceId"`
	EdgeDescription string          `json:"edgeDescription"`
	Released        bool            `json:"released"`
	StartNodeID     string          `json:"startNodeId"`
	EndNodeID       string          `json:"endNodeId"`
	MaxSpeed        *float64        `json:"maxSpeed,omitempty"`
	MaxHeight       *float64        `json:"maxHeight,omitempty"`
	MinHeight       *float64        `json:"minHeight,omitempty"`
	Orientation     *float64        `json:"orientation,omitempty"`
	Direction       string          `json:"direction,omitempty"`
	Trajectory      json.RawMessage `json:"trajectory,omitempty"`
	Actions         []Action        `json:"actions"`
}

type Order struct {
	Header
	OrderID       string `json:"orderId"`
	OrderUpdateID int64  `json:"orderUpdateId"`
	Nodes         []Node `json:"nodes"`
	Edges         []Edge `json:"edges"`
}

// Validate checks that node sequence ids strictly increase.
func (o *Order) Validate() error {
	for i := 1; i < len(o.Nodes); i++ {
		if o.Nodes[i].SequenceID <= o.Nodes[i-1].SequenceID {
			return fmt.Errorf("%w: order %s node %s sequenceId %d does not increase (previous %d)",
				ErrInvalidOrder, o.OrderID, o.Nodes[i].NodeID, o.Nodes[i].SequenceID, o.Nodes[i-1].SequenceID)
		}
	}
	return nil
}

func (o *Order) normalize() {
	if o.Nodes == nil {
		o.Nodes = []Node{}
	}
	if o.Edges == nil {
		o.Edges = []Edge{}
	}
	for i := range o.Nodes {
		if o.Nodes[i].Actions == nil {
			o.Nodes[i].Actions = []Action{}
		}
	}
	for i := range o.Edges {
		if o.Edges[i].Actions == nil {
			o.Edges[i].Actions = []Action{}
		}
	}
}

type InstantActions struct {
	Header
	Actions []Action `json:"actions"`
}

func (ia *InstantActions) normalize() {
	if ia.Actions == nil {
		ia.Actions = []Action{}
	}
}
