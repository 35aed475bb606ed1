package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"agv-simulator/internal/metrics"
	"agv-simulator/models"
)

// InboundHandler receives decoded inbound messages of one robot.
type InboundHandler interface {
	HandleOrder(order *models.Order)
	HandleInstantActions(actions *models.InstantActions)
}

type inboundMessage struct {
	channel string
	payload []byte
}

const (
	inboxSize    = 64
	drainTimeout = 2 * time.Second
)

// Gateway bridges one robot to the broker. It subscribes to the robot's
// inbound channels, decodes what arrives on a goroutine of its own and
// publishes outbound messages without surfacing errors to the caller.
// A Gateway is used for one connect/disconnect cycle.
type Gateway struct {
	topic     Topic
	transport Transport
	handler   InboundHandler
	logger    *slog.Logger

	inbox chan inboundMessage
	done  chan struct{}
	wg    sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewGateway(topic Topic, transport Transport, handler InboundHandler, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		topic:     topic,
		transport: transport,
		handler:   handler,
		logger:    logger.With("component", "gateway", "topic", topic.Prefix()),
		inbox:     make(chan inboundMessage, inboxSize),
		done:      make(chan struct{}),
	}
}

func (g *Gateway) Topic() Topic {
	return g.topic
}

// Connect subscribes to the inbound channels, starts the receive loop and
// connects the transport. A connect error leaves the subscriptions in place
// for the transport's own reconnect.
func (g *Gateway) Connect(ctx context.Context) error {
	g.startOnce.Do(func() {
		g.wg.Add(1)
		go g.receiveLoop()
	})

	for _, ch := range []string{ChannelOrder, ChannelInstantActions} {
		channel := ch
		qos, _ := QoS(channel)
		if err := g.transport.Subscribe(g.topic.Channel(channel), qos, func(_ string, payload []byte) {
			g.enqueue(channel, payload)
		}); err != nil {
			g.logger.Error("Failed to subscribe", "channel", channel, slog.Any("error", err))
		}
	}

	if err := g.transport.Connect(ctx); err != nil {
		return err
	}
	g.logger.Info("Gateway connected")
	return nil
}

func (g *Gateway) enqueue(channel string, payload []byte) {
	msg := inboundMessage{channel: channel, payload: append([]byte(nil), payload...)}
	select {
	case g.inbox <- msg:
	case <-g.done:
	}
}

func (g *Gateway) receiveLoop() {
	defer g.wg.Done()
	for {
		select {
		case <-g.done:
			return
		case msg := <-g.inbox:
			g.dispatch(msg)
		}
	}
}

func (g *Gateway) dispatch(msg inboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Inbound handler panicked", "channel", msg.channel, "panic", r)
		}
	}()

	switch msg.channel {
	case ChannelOrder:
		order, err := models.DecodeOrder(msg.payload)
		if err != nil {
			metrics.RecordInbound(msg.channel, "malformed")
			g.logger.Warn("Dropping malformed order", slog.Any("error", err))
			return
		}
		if err := order.Validate(); err != nil {
			metrics.RecordInbound(msg.channel, "rejected")
			g.logger.Warn("Dropping invalid order", "orderId", order.OrderID, slog.Any("error", err))
			return
		}
		metrics.RecordInbound(msg.channel, "accepted")
		g.handler.HandleOrder(order)
	case ChannelInstantActions:
		actions, err := models.DecodeInstantActions(msg.payload)
		if err != nil {
			metrics.RecordInbound(msg.channel, "malformed")
			g.logger.Warn("Dropping malformed instant actions", slog.Any("error", err))
			return
		}
		metrics.RecordInbound(msg.channel, "accepted")
		g.handler.HandleInstantActions(actions)
	}
}

// Publish encodes v and sends it on a channel of this robot. Failures are
// logged and counted, never returned.
func (g *Gateway) Publish(channel string, v interface{}) {
	payload, err := models.Encode(v)
	if err != nil {
		metrics.RecordPublish(channel, false)
		g.logger.Error("Failed to encode message", "channel", channel, slog.Any("error", err))
		return
	}
	g.PublishRaw(channel, payload)
}

func (g *Gateway) PublishRaw(channel string, payload []byte) {
	qos, retained := QoS(channel)
	if err := g.transport.Publish(g.topic.Channel(channel), qos, retained, payload); err != nil {
		metrics.RecordPublish(channel, false)
		g.logger.Warn("Failed to publish", "channel", channel, slog.Any("error", err))
		return
	}
	metrics.RecordPublish(channel, true)
}

func (g *Gateway) IsConnected() bool {
	return g.transport.IsConnected()
}

// Disconnect stops the receive loop and closes the transport. It waits a
// bounded time for an in-flight handler. Safe to call more than once.
func (g *Gateway) Disconnect() {
	g.stopOnce.Do(func() {
		close(g.done)
		g.transport.Disconnect()

		drained := make(chan struct{})
		go func() {
			g.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(drainTimeout):
			g.logger.Warn("Receive loop still busy after disconnect")
		}
		g.logger.Info("Gateway disconnected")
	})
}
