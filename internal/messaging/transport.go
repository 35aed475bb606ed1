package messaging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// ErrNotConnected is returned by Publish while the transport is offline.
var ErrNotConnected = errors.New("transport is not connected")

// MessageHandler receives one inbound message.
type MessageHandler func(topic string, payload []byte)

// Transport is a per-robot publish/subscribe connection.
type Transport interface {
	// Connect blocks until the connection is up or ctx is done.
	Connect(ctx context.Context) error
	// Subscribe registers a handler. Subscriptions survive reconnects.
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Disconnect()
	IsConnected() bool
}

// Will is the message the broker publishes when the client drops.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type TransportOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Will     *Will
	Logger   *slog.Logger
}

// TransportFactory creates a transport for one robot.
type TransportFactory func(opts TransportOptions) Transport

// MemoryScheme selects the in-process broker.
const MemoryScheme = "memory://"

// NewTransportFactory returns a factory for the given broker URL. A
// memory:// URL routes every robot through broker, which must then be
// non-nil.
func NewTransportFactory(brokerURL string, broker *MemoryBroker) TransportFactory {
	if strings.HasPrefix(brokerURL, MemoryScheme) {
		return func(opts TransportOptions) Transport {
			return broker.NewTransport(opts)
		}
	}
	return func(opts TransportOptions) Transport {
		opts.Broker = brokerURL
		return NewPahoTransport(opts)
	}
}
