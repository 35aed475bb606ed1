package models

import (
	"encoding/json"
	"time"
)

// Connection is the message published on the connection channel.
type Connection struct {
	Header
	ConnectionState ConnectionState `json:"connectionState"`
}

func (c *Connection) UnmarshalJSON(data []byte) error {
	type alias Connection
	var aux alias
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if !aux.ConnectionState.Valid() {
		aux.ConnectionState = ConnectionOffline
	}
	*c = Connection(aux)
	return nil
}

// Visualization mirrors the vehicle position for map viewers.
type Visualization struct {
	Header
	AgvPosition *AgvPosition `json:"agvPosition,omitempty"`
	Velocity    *Velocity    `json:"velocity,omitempty"`
}

// ConnectionStateRecord keeps the latest connection state per robot.
type ConnectionStateRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	RobotID         string    `gorm:"index:idx_robot_state,unique" json:"robotId"`
	SerialNumber    string    `gorm:"index" json:"serialNumber"`
	ConnectionState string    `json:"connectionState"`
	HeaderID        int64     `json:"headerId"`
	Timestamp       string    `json:"timestamp"`
	Version         string    `json:"version"`
	Manufacturer    string    `json:"manufacturer"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (ConnectionStateRecord) TableName() string { return "connection_states" }

// ConnectionStateHistory keeps every connection change.
type ConnectionStateHistory struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	RobotID         string    `gorm:"index" json:"robotId"`
	SerialNumber    string    `json:"serialNumber"`
	ConnectionState string    `json:"connectionState"`
	HeaderID        int64     `json:"headerId"`
	Timestamp       string    `json:"timestamp"`
	Version         string    `json:"version"`
	Manufacturer    string    `json:"manufacturer"`
	CreatedAt       time.Time `json:"createdAt"`
}

// OrderHistory keeps every order a simulated robot accepted.
type OrderHistory struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RobotID       string    `gorm:"index" json:"robotId"`
	SerialNumber  string    `json:"serialNumber"`
	OrderID       string    `gorm:"index" json:"orderId"`
	OrderUpdateID int64     `json:"orderUpdateId"`
	NodeCount     int       `json:"nodeCount"`
	EdgeCount     int       `json:"edgeCount"`
	Payload       string    `gorm:"type:text" json:"payload"`
	CreatedAt     time.Time `json:"createdAt"`
}
