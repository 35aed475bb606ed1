package simulator

import (
	"sync"

	"agv-simulator/models"
)

// ConnectionStream produces the connection channel messages of one robot.
// It has its own lock so a stuck tick cannot hold back the final OFFLINE
// message.
type ConnectionStream struct {
	mu  sync.Mutex
	msg models.Connection
}

func NewConnectionStream(version, manufacturer, serialNumber string) *ConnectionStream {
	if version == "" {
		version = models.DefaultFullVersion
	}
	return &ConnectionStream{msg: models.Connection{
		Header: models.Header{
			Version:      version,
			Manufacturer: manufacturer,
			SerialNumber: serialNumber,
		},
		ConnectionState: models.ConnectionOffline,
	}}
}

// Next advances the stream to state and returns the message to publish.
func (c *ConnectionStream) Next(state models.ConnectionState) models.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msg.ConnectionState = state
	c.msg.HeaderID++
	c.msg.Timestamp = models.Timestamp()
	return c.msg
}

// Peek builds a message for state without advancing the stream. Used for
// the last will, which the broker may never send.
func (c *ConnectionStream) Peek(state models.ConnectionState) models.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.msg
	m.ConnectionState = state
	m.Timestamp = models.Timestamp()
	return m
}

// Current returns the last state produced by Next.
func (c *ConnectionStream) Current() models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msg.ConnectionState
}
