package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type subscription struct {
	qos     byte
	handler MessageHandler
}

// PahoTransport is a Transport backed by one paho MQTT client.
type PahoTransport struct {
	client mqtt.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]subscription
}

// NewPahoTransport builds the client without connecting.
func NewPahoTransport(opts TransportOptions) *PahoTransport {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	t := &PahoTransport{
		logger: logger.With("component", "mqtt_transport", "clientId", opts.ClientID),
		subs:   make(map[string]subscription),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(10 * time.Second).
		SetCleanSession(true)

	if opts.Will != nil {
		clientOpts.SetBinaryWill(opts.Will.Topic, opts.Will.Payload, opts.Will.QoS, opts.Will.Retained)
	}

	clientOpts.SetOnConnectHandler(t.onConnect)
	clientOpts.SetConnectionLostHandler(t.onConnectionLost)
	t.client = mqtt.NewClient(clientOpts)
	return t
}

// Connect starts connecting and waits for the first connection. When ctx
// ends first the client keeps retrying in the background.
func (t *PahoTransport) Connect(ctx context.Context) error {
	token := t.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to connect to MQTT broker: %w", ctx.Err())
	}
}

func (t *PahoTransport) onConnect(client mqtt.Client) {
	t.logger.Info("Connected to MQTT broker, restoring subscriptions")

	t.mu.Lock()
	subs := make(map[string]subscription, len(t.subs))
	for topic, s := range t.subs {
		subs[topic] = s
	}
	t.mu.Unlock()

	for topic, s := range subs {
		t.subscribe(topic, s)
	}
}

func (t *PahoTransport) onConnectionLost(client mqtt.Client, err error) {
	t.logger.Error("Connection lost. Reconnecting...", slog.Any("error", err))
}

// Subscribe records the subscription and sends it now if connected. Offline
// subscriptions are sent by the connect handler.
func (t *PahoTransport) Subscribe(topic string, qos byte, handler MessageHandler) error {
	s := subscription{qos: qos, handler: handler}
	t.mu.Lock()
	t.subs[topic] = s
	t.mu.Unlock()

	if !t.client.IsConnected() {
		return nil
	}
	return t.subscribe(topic, s)
}

func (t *PahoTransport) subscribe(topic string, s subscription) error {
	token := t.client.Subscribe(topic, s.qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		t.logger.Error("Failed to subscribe to topic", "topic", topic, slog.Any("error", token.Error()))
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	t.logger.Debug("Subscribed to topic", "topic", topic)
	return nil
}

func (t *PahoTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !t.client.IsConnected() {
		return ErrNotConnected
	}
	token := t.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Disconnect closes the connection gracefully, so the broker does not
// publish the will. It also stops a pending connect retry.
func (t *PahoTransport) Disconnect() {
	t.client.Disconnect(250)
	t.logger.Info("MQTT client disconnected")
}

func (t *PahoTransport) IsConnected() bool {
	return t.client.IsConnectionOpen()
}

const defaultPublishTimeout = 5 * time.Second
