package models

import "time"

// RobotStatus is the supervisor's view of one simulated robot.
type RobotStatus struct {
	ID           string       `json:"id"`
	SerialNumber string       `json:"serialNumber"`
	Manufacturer string       `json:"manufacturer"`
	Type         string       `json:"type,omitempty"`
	State        string       `json:"state"`
	Alive        bool         `json:"alive"`
	Connected    bool         `json:"connected"`
	Position     *AgvPosition `json:"position,omitempty"`
	Battery      float64      `json:"battery"`
	OrderID      string       `json:"orderId"`
	Phase        string       `json:"phase"`
	Driving      bool         `json:"driving"`
	HeaderID     int64        `json:"headerId"`
	LastTick     *time.Time   `json:"lastTick,omitempty"`
	Generation   uint64       `json:"generation"`
}
