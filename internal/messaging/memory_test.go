package messaging

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func newCollector() *collector {
	return &collector{msgs: make(map[string][][]byte)}
}

func (c *collector) handle(topic string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs[topic] = append(c.msgs[topic], payload)
}

func (c *collector) count(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs[topic])
}

func TestMemoryBrokerRouting(t *testing.T) {
	broker := NewMemoryBroker()
	pub := broker.NewTransport(TransportOptions{ClientID: "pub"})
	sub := broker.NewTransport(TransportOptions{ClientID: "sub"})
	ctx := context.Background()

	require.NoError(t, pub.Connect(ctx))
	require.NoError(t, sub.Connect(ctx))

	c := newCollector()
	require.NoError(t, sub.Subscribe("uagv/v2/+/+/state", 0, c.handle))

	require.NoError(t, pub.Publish("uagv/v2/Acme/AGV-1/state", 0, false, []byte(`{}`)))
	require.NoError(t, pub.Publish("uagv/v2/Acme/AGV-1/visualization", 0, false, []byte(`{}`)))

	assert.Equal(t, 1, c.count("uagv/v2/Acme/AGV-1/state"))
	assert.Equal(t, 0, c.count("uagv/v2/Acme/AGV-1/visualization"))
}

func TestMemoryBrokerRetainedAndWill(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()
	will := &Will{Topic: "uagv/v2/Acme/AGV-1/connection", Payload: []byte(`{"connectionState":"CONNECTIONBROKEN"}`), QoS: 1, Retained: true}

	robot := broker.NewTransport(TransportOptions{ClientID: "robot", Will: will})
	require.NoError(t, robot.Connect(ctx))
	require.NoError(t, robot.Publish(will.Topic, 1, true, []byte(`{"connectionState":"ONLINE"}`)))

	late := broker.NewTransport(TransportOptions{ClientID: "late"})
	require.NoError(t, late.Connect(ctx))
	c := newCollector()
	require.NoError(t, late.Subscribe(will.Topic, 1, c.handle))
	assert.Equal(t, 1, c.count(will.Topic), "retained message replayed on subscribe")

	robot.Drop()
	assert.False(t, robot.IsConnected())
	retained, ok := broker.Retained(will.Topic)
	require.True(t, ok)
	assert.JSONEq(t, `{"connectionState":"CONNECTIONBROKEN"}`, string(retained))
	assert.Equal(t, 2, c.count(will.Topic))
}

func TestMemoryTransportOffline(t *testing.T) {
	broker := NewMemoryBroker()
	tr := broker.NewTransport(TransportOptions{ClientID: "x"})
	assert.ErrorIs(t, tr.Publish("a/b", 0, false, nil), ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, tr.Connect(ctx))
}

func TestNewTransportFactory(t *testing.T) {
	broker := NewMemoryBroker()
	factory := NewTransportFactory("memory://local", broker)
	_, ok := factory(TransportOptions{ClientID: "a"}).(*MemoryTransport)
	assert.True(t, ok)

	factory = NewTransportFactory("tcp://localhost:1883", nil)
	_, ok = factory(TransportOptions{ClientID: "b"}).(*PahoTransport)
	assert.True(t, ok)
}
