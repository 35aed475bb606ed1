package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryBroker routes messages between transports of the same process. It
// keeps retained messages and publishes a client's will when the client is
// dropped with Drop.
type MemoryBroker struct {
	mu       sync.RWMutex
	clients  map[*MemoryTransport]struct{}
	retained map[string][]byte
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		clients:  make(map[*MemoryTransport]struct{}),
		retained: make(map[string][]byte),
	}
}

// NewTransport returns a disconnected client of this broker.
func (b *MemoryBroker) NewTransport(opts TransportOptions) *MemoryTransport {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryTransport{
		broker:   b,
		clientID: opts.ClientID,
		will:     opts.Will,
		subs:     make(map[string]subscription),
		logger:   logger.With("component", "memory_transport", "clientId", opts.ClientID),
	}
}

// Retained returns the retained message of a topic.
func (b *MemoryBroker) Retained(topic string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.retained[topic]
	return p, ok
}

func (b *MemoryBroker) attach(t *MemoryTransport) {
	b.mu.Lock()
	b.clients[t] = struct{}{}
	b.mu.Unlock()
}

func (b *MemoryBroker) detach(t *MemoryTransport) {
	b.mu.Lock()
	delete(b.clients, t)
	b.mu.Unlock()
}

func (b *MemoryBroker) publish(topic string, retained bool, payload []byte) {
	msg := append([]byte(nil), payload...)

	b.mu.Lock()
	if retained {
		if len(msg) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = msg
		}
	}
	var targets []MessageHandler
	for c := range b.clients {
		targets = append(targets, c.handlersFor(topic)...)
	}
	b.mu.Unlock()

	for _, h := range targets {
		h(topic, msg)
	}
}

func (b *MemoryBroker) retainedFor(filter string) map[string][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string][]byte)
	for topic, p := range b.retained {
		if MatchTopic(filter, topic) {
			out[topic] = p
		}
	}
	return out
}

// MemoryTransport is one client of a MemoryBroker. Handlers run on the
// publisher's goroutine.
type MemoryTransport struct {
	broker   *MemoryBroker
	clientID string
	will     *Will
	logger   *slog.Logger

	mu        sync.RWMutex
	connected bool
	subs      map[string]subscription
}

func (t *MemoryTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	t.broker.attach(t)
	t.logger.Debug("Connected to in-memory broker")
	return nil
}

func (t *MemoryTransport) Subscribe(topic string, qos byte, handler MessageHandler) error {
	t.mu.Lock()
	t.subs[topic] = subscription{qos: qos, handler: handler}
	connected := t.connected
	t.mu.Unlock()

	if connected {
		for rt, p := range t.broker.retainedFor(topic) {
			handler(rt, p)
		}
	}
	return nil
}

func (t *MemoryTransport) handlersFor(topic string) []MessageHandler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.connected {
		return nil
	}
	var hs []MessageHandler
	for filter, s := range t.subs {
		if MatchTopic(filter, topic) {
			hs = append(hs, s.handler)
		}
	}
	return hs
}

func (t *MemoryTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}
	t.broker.publish(topic, retained, payload)
	return nil
}

func (t *MemoryTransport) Disconnect() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.broker.detach(t)
}

// Drop simulates a lost connection: the client goes offline and the broker
// publishes its will.
func (t *MemoryTransport) Drop() {
	t.Disconnect()
	if t.will != nil {
		t.broker.publish(t.will.Topic, t.will.Retained, t.will.Payload)
	}
}

func (t *MemoryTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}
