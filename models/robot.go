package models

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// RobotPosition is the position block of a registry entry. Rotate is the
// heading in radians.
type RobotPosition struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Rotate float64 `json:"rotate"`
	MapID  string  `json:"mapId,omitempty"`
}

func (p *RobotPosition) UnmarshalJSON(data []byte) error {
	var aux struct {
		X      FlexFloat  `json:"x"`
		Y      FlexFloat  `json:"y"`
		Rotate FlexFloat  `json:"rotate"`
		Theta  *FlexFloat `json:"theta"`
		MapID  string     `json:"mapId"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = RobotPosition{X: float64(aux.X), Y: float64(aux.Y), Rotate: float64(aux.Rotate), MapID: aux.MapID}
	if aux.Theta != nil && aux.Rotate == 0 {
		p.Rotate = float64(*aux.Theta)
	}
	return nil
}

// RobotSettings carries the optional per-robot overrides of a registry entry.
type RobotSettings struct {
	Battery         *float64       `json:"battery,omitempty"`
	MaxSpeed        *float64       `json:"maxSpeed,omitempty"`
	Speed           *float64       `json:"speed,omitempty"`
	Orientation     *float64       `json:"orientation,omitempty"`
	InitialPosition *RobotPosition `json:"initialPosition,omitempty"`
}

func (s *RobotSettings) UnmarshalJSON(data []byte) error {
	var aux struct {
		Battery         *FlexFloat     `json:"battery"`
		MaxSpeed        *FlexFloat     `json:"maxSpeed"`
		Speed           *FlexFloat     `json:"speed"`
		Orientation     *FlexFloat     `json:"orientation"`
		InitialPosition *RobotPosition `json:"initialPosition"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = RobotSettings{
		Battery:         flexPtr(aux.Battery),
		MaxSpeed:        flexPtr(aux.MaxSpeed),
		Speed:           flexPtr(aux.Speed),
		Orientation:     flexPtr(aux.Orientation),
		InitialPosition: aux.InitialPosition,
	}
	return nil
}

// RobotDescriptor is one entry of the robot registry file.
type RobotDescriptor struct {
	ID           string         `json:"id,omitempty"`
	SerialNumber string         `json:"serialNumber"`
	Manufacturer string         `json:"manufacturer"`
	Type         string         `json:"type,omitempty"`
	IP           string         `json:"ip,omitempty"`
	Position     *RobotPosition `json:"position,omitempty"`
	Battery      *float64       `json:"battery,omitempty"`
	MaxSpeed     *float64       `json:"maxSpeed,omitempty"`
	Config       *RobotSettings `json:"config,omitempty"`
}

func (d *RobotDescriptor) UnmarshalJSON(data []byte) error {
	type alias RobotDescriptor
	var aux struct {
		alias
		Battery  *FlexFloat `json:"battery"`
		MaxSpeed *FlexFloat `json:"maxSpeed"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*d = RobotDescriptor(aux.alias)
	d.Battery = flexPtr(aux.Battery)
	d.MaxSpeed = flexPtr(aux.MaxSpeed)
	return nil
}

// Identity is the key the supervisor uses: the id when present, otherwise
// the serial number.
func (d RobotDescriptor) Identity() string {
	if d.ID != "" {
		return d.ID
	}
	return d.SerialNumber
}

// Validate reports a missing required field.
func (d RobotDescriptor) Validate() error {
	if d.SerialNumber == "" {
		return fmt.Errorf("robot %q: serialNumber is required", d.Identity())
	}
	if d.Manufacturer == "" {
		return fmt.Errorf("robot %q: manufacturer is required", d.Identity())
	}
	return nil
}

// Equal reports whether two descriptors would produce the same robot config.
func (d RobotDescriptor) Equal(other RobotDescriptor) bool {
	return reflect.DeepEqual(d, other)
}

func flexPtr(f *FlexFloat) *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}
