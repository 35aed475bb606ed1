package robot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"agv-simulator/internal/messaging"
	"agv-simulator/internal/metrics"
	"agv-simulator/internal/simulator"
	"agv-simulator/internal/storage"
	"agv-simulator/models"
)

// Lifecycle states.
const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
)

const (
	eventStart   = "start"
	eventStarted = "started"
	eventStop    = "stop"
	eventHalted  = "halted"
)

var (
	ErrNotRunning      = errors.New("robot is not running")
	ErrBusy            = errors.New("robot is busy")
	ErrIdentityChanged = errors.New("robot identity changed")
)

const (
	defaultConnectTimeout = 5 * time.Second
	statusLockTimeout     = 500 * time.Millisecond
	updateLockTimeout     = 2 * time.Second
	persistTimeout        = 2 * time.Second
	initialBackoff        = time.Second
	maxBackoff            = 30 * time.Second

	// A loop without a successful tick for stallTicks periods, and at
	// least minStall, counts as dead.
	stallTicks = 5
	minStall   = time.Second
)

// Runtime drives one simulated robot: it owns the engine, ticks it on its
// own goroutine and publishes through a gateway. Inbound messages, ticks and
// config updates are serialized by mu.
type Runtime struct {
	id       string
	topic    messaging.Topic
	clientID string
	interval time.Duration

	build          func(models.RobotDescriptor) (Config, error)
	transports     messaging.TransportFactory
	username       string
	password       string
	store          storage.Store
	connectTimeout time.Duration
	logger         *slog.Logger

	lifecycle *fsm.FSM
	lifeMu    sync.Mutex // serializes Start and Stop

	mu     sync.Mutex
	cfg    Config
	desc   models.RobotDescriptor
	engine *simulator.Engine

	connection *simulator.ConnectionStream
	gateway    atomic.Pointer[messaging.Gateway]

	cancel     context.CancelFunc
	done       chan struct{}
	alive      atomic.Bool
	generation atomic.Uint64
	lastTick   atomic.Int64
	heartbeat  atomic.Int64

	backoff    time.Duration
	beforeTick func()
}

func newRuntime(f *Factory, cfg Config, desc models.RobotDescriptor) *Runtime {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "robot", "robotId", cfg.RobotID, "serialNumber", cfg.SerialNumber)

	var store storage.Store = storage.Nop{}
	if f.Store != nil {
		store = f.Store
	}
	connectTimeout := f.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	r := &Runtime{
		id:             cfg.RobotID,
		topic:          cfg.Topic(),
		clientID:       cfg.ClientID,
		interval:       cfg.PublishInterval(),
		build:          f.Build,
		transports:     f.Transports,
		username:       f.MQTTUsername,
		password:       f.MQTTPassword,
		store:          store,
		connectTimeout: connectTimeout,
		logger:         logger,
		cfg:            cfg,
		desc:           desc,
		backoff:        initialBackoff,
	}
	r.engine = simulator.New(simulator.Settings{
		Manufacturer: cfg.Manufacturer,
		SerialNumber: cfg.SerialNumber,
		Version:      cfg.VDAFullVersion,
		MapID:        cfg.MapID,
		X:            cfg.X,
		Y:            cfg.Y,
		Theta:        cfg.Theta,
		Battery:      cfg.Battery,
		Speed:        cfg.Speed,
		Logger:       logger,
	})
	r.connection = simulator.NewConnectionStream(cfg.VDAFullVersion, cfg.Manufacturer, cfg.SerialNumber)

	r.lifecycle = fsm.NewFSM(
		StateStopped,
		fsm.Events{
			{Name: eventStart, Src: []string{StateStopped}, Dst: StateStarting},
			{Name: eventStarted, Src: []string{StateStarting}, Dst: StateRunning},
			{Name: eventStop, Src: []string{StateStarting, StateRunning}, Dst: StateStopping},
			{Name: eventHalted, Src: []string{StateStopping}, Dst: StateStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				r.logger.Debug("Lifecycle transition", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return r
}

func (r *Runtime) ID() string {
	return r.id
}

// Config returns the config currently applied.
func (r *Runtime) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// State is the lifecycle state.
func (r *Runtime) State() string {
	return r.lifecycle.Current()
}

func (r *Runtime) IsRunning() bool {
	return r.lifecycle.Is(StateRunning)
}

// IsAlive reports whether the tick loop goroutine is still running and
// completed a tick recently. A loop wedged on a tick or failing every tick
// is not alive.
func (r *Runtime) IsAlive() bool {
	if !r.alive.Load() {
		return false
	}
	last := time.Unix(0, r.heartbeat.Load())
	return time.Since(last) <= r.stallAfter()
}

func (r *Runtime) stallAfter() time.Duration {
	return max(stallTicks*r.interval, minStall)
}

// Generation counts the loops started so far. A config update keeps it.
func (r *Runtime) Generation() uint64 {
	return r.generation.Load()
}

// Start connects to the broker, announces the robot and starts the tick
// loop. A broker that cannot be reached is logged; the loop runs anyway and
// the transport keeps retrying. Starting a running robot is a no-op.
func (r *Runtime) Start(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if r.lifecycle.Is(StateRunning) {
		return nil
	}
	if err := r.lifecycle.Event(ctx, eventStart); err != nil {
		return fmt.Errorf("start robot %s: %w", r.id, err)
	}

	var will *messaging.Will
	if payload, err := models.Encode(r.connection.Peek(models.ConnectionBroken)); err == nil {
		qos, retained := messaging.QoS(messaging.ChannelConnection)
		will = &messaging.Will{
			Topic:    r.topic.Channel(messaging.ChannelConnection),
			Payload:  payload,
			QoS:      qos,
			Retained: retained,
		}
	}
	transport := r.transports(messaging.TransportOptions{
		ClientID: r.clientID,
		Username: r.username,
		Password: r.password,
		Will:     will,
		Logger:   r.logger,
	})
	gw := messaging.NewGateway(r.topic, transport, r, r.logger)

	connectCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	if err := gw.Connect(connectCtx); err != nil {
		r.logger.Warn("Broker unreachable, simulating offline until the client reconnects", slog.Any("error", err))
	}
	cancel()
	r.gateway.Store(gw)

	r.publishConnection(gw, models.ConnectionOnline)
	r.mu.Lock()
	state := r.engine.StateMessage()
	vis := r.engine.VisualizationMessage(true)
	r.mu.Unlock()
	gw.Publish(messaging.ChannelState, state)
	gw.Publish(messaging.ChannelVisualization, vis)

	loopCtx, stop := context.WithCancel(context.Background())
	r.cancel = stop
	r.done = make(chan struct{})
	r.heartbeat.Store(time.Now().UnixNano())
	r.alive.Store(true)
	r.generation.Add(1)
	go r.run(loopCtx, r.done, gw)

	if err := r.lifecycle.Event(ctx, eventStarted); err != nil {
		return fmt.Errorf("start robot %s: %w", r.id, err)
	}
	r.logger.Info("Robot started", "interval", r.interval, "clientId", r.clientID)
	return nil
}

// Stop announces OFFLINE, cancels the loop and waits up to timeout for it
// before disconnecting. A loop that does not return in time is abandoned.
func (r *Runtime) Stop(timeout time.Duration) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if r.lifecycle.Is(StateStopped) {
		return nil
	}
	ctx := context.Background()
	if err := r.lifecycle.Event(ctx, eventStop); err != nil {
		return fmt.Errorf("stop robot %s: %w", r.id, err)
	}

	gw := r.gateway.Load()
	if gw != nil {
		r.publishConnection(gw, models.ConnectionOffline)
	}

	r.cancel()
	select {
	case <-r.done:
	case <-time.After(timeout):
		r.logger.Warn("Tick loop did not stop in time, abandoning it", "timeout", timeout)
	}

	if gw != nil {
		gw.Disconnect()
	}
	r.alive.Store(false)

	if err := r.lifecycle.Event(ctx, eventHalted); err != nil {
		return fmt.Errorf("stop robot %s: %w", r.id, err)
	}
	r.logger.Info("Robot stopped")
	return nil
}

func (r *Runtime) run(ctx context.Context, done chan struct{}, gw *messaging.Gateway) {
	defer close(done)
	defer func() {
		if rec := recover(); rec != nil {
			r.alive.Store(false)
			metrics.RecordPanic(r.id)
			r.logger.Error("Tick loop died", "panic", rec)
		}
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	wait := r.backoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := r.iterate(ctx, gw); err != nil {
			metrics.RecordPanic(r.id)
			r.logger.Error("Tick failed, backing off", "backoff", wait, slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			wait = min(wait*2, maxBackoff)
			continue
		}
		wait = r.backoff
	}
}

func (r *Runtime) iterate(ctx context.Context, gw *messaging.Gateway) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tick panicked: %v", rec)
		}
	}()

	state, vis := r.tick()
	gw.Publish(messaging.ChannelState, state)
	gw.Publish(messaging.ChannelVisualization, vis)
	now := time.Now().UnixNano()
	r.lastTick.Store(now)
	r.heartbeat.Store(now)
	metrics.RecordTick(r.id)

	if ctx.Err() == nil {
		r.persist("state", func(ctx context.Context) error {
			return r.store.SaveState(ctx, r.id, state)
		})
	}
	return nil
}

func (r *Runtime) tick() (*models.State, models.Visualization) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.beforeTick != nil {
		r.beforeTick()
	}
	r.engine.Tick()
	return r.engine.StateMessage(), r.engine.VisualizationMessage(true)
}

func (r *Runtime) publishConnection(gw *messaging.Gateway, cs models.ConnectionState) {
	msg := r.connection.Next(cs)
	gw.Publish(messaging.ChannelConnection, msg)
	r.persist("connection", func(ctx context.Context) error {
		return r.store.SaveConnection(ctx, r.id, &msg)
	})
}

func (r *Runtime) persist(kind string, save func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := save(ctx); err != nil {
		r.logger.Warn("Failed to persist snapshot", "kind", kind, slog.Any("error", err))
	}
}

// HandleOrder applies an order received from the broker.
func (r *Runtime) HandleOrder(order *models.Order) {
	r.mu.Lock()
	r.engine.AcceptOrder(order)
	r.mu.Unlock()

	r.persist("order", func(ctx context.Context) error {
		return r.store.SaveOrder(ctx, r.id, order)
	})
}

// HandleInstantActions queues instant actions received from the broker.
func (r *Runtime) HandleInstantActions(actions *models.InstantActions) {
	r.mu.Lock()
	r.engine.AcceptInstantActions(actions)
	r.mu.Unlock()
	r.logger.Info("Instant actions queued", "count", len(actions.Actions))
}

// UpdateConfig applies a changed descriptor in place and republishes state
// and visualization right away. The loop keeps running at its current
// period: the state frequency comes from the vehicle template, which no
// descriptor overrides.
func (r *Runtime) UpdateConfig(desc models.RobotDescriptor) error {
	cfg, err := r.build(desc)
	if err != nil {
		return err
	}
	if !lockWithin(&r.mu, updateLockTimeout) {
		return fmt.Errorf("update robot %s: %w", r.id, ErrBusy)
	}
	old := r.cfg
	if cfg.RobotID != old.RobotID || cfg.SerialNumber != old.SerialNumber || cfg.Manufacturer != old.Manufacturer {
		r.mu.Unlock()
		return fmt.Errorf("update robot %s: %w", r.id, ErrIdentityChanged)
	}
	r.cfg = cfg
	r.desc = desc
	if cfg.HasPose {
		r.engine.SetPose(cfg.X, cfg.Y, cfg.Theta, cfg.MapID)
	}
	r.engine.SetBattery(cfg.Battery)
	r.engine.SetSpeed(cfg.Speed)
	state := r.engine.StateMessage()
	vis := r.engine.VisualizationMessage(true)
	r.mu.Unlock()

	if gw := r.gateway.Load(); gw != nil && r.IsRunning() {
		gw.Publish(messaging.ChannelState, state)
		gw.Publish(messaging.ChannelVisualization, vis)
	}
	r.logger.Info("Configuration updated", "x", cfg.X, "y", cfg.Y, "theta", cfg.Theta, "battery", cfg.Battery, "speed", cfg.Speed)
	return nil
}

// SendOrder publishes an order to this robot's order topic the way a fleet
// manager would. Missing header fields are filled in.
func (r *Runtime) SendOrder(payload []byte) error {
	order, err := models.DecodeOrder(payload)
	if err != nil {
		return err
	}
	r.fillHeader(&order.Header)
	if err := order.Validate(); err != nil {
		return err
	}
	return r.send(messaging.ChannelOrder, order)
}

// SendInstantActions publishes instant actions to this robot's topic.
func (r *Runtime) SendInstantActions(payload []byte) error {
	actions, err := models.DecodeInstantActions(payload)
	if err != nil {
		return err
	}
	r.fillHeader(&actions.Header)
	return r.send(messaging.ChannelInstantActions, actions)
}

func (r *Runtime) fillHeader(h *models.Header) {
	if h.Manufacturer == "" {
		h.Manufacturer = r.topic.Manufacturer
	}
	if h.SerialNumber == "" {
		h.SerialNumber = r.topic.SerialNumber
	}
	if h.Version == "" {
		h.Version = models.DefaultFullVersion
	}
	if h.Timestamp == "" {
		h.Timestamp = models.Timestamp()
	}
}

func (r *Runtime) send(channel string, v interface{}) error {
	gw := r.gateway.Load()
	if gw == nil || !r.IsRunning() {
		return fmt.Errorf("robot %s: %w", r.id, ErrNotRunning)
	}
	if !gw.IsConnected() {
		return fmt.Errorf("robot %s: %w", r.id, messaging.ErrNotConnected)
	}
	payload, err := models.Encode(v)
	if err != nil {
		return err
	}
	gw.PublishRaw(channel, payload)
	return nil
}

// Status reads a snapshot of the robot. It gives up with ErrBusy when a tick
// holds the lock for too long.
func (r *Runtime) Status() (models.RobotStatus, error) {
	st := models.RobotStatus{
		ID:           r.id,
		SerialNumber: r.topic.SerialNumber,
		Manufacturer: r.topic.Manufacturer,
		State:        r.lifecycle.Current(),
		Alive:        r.IsAlive(),
		Generation:   r.Generation(),
	}
	if gw := r.gateway.Load(); gw != nil && st.State == StateRunning {
		st.Connected = gw.IsConnected()
	}
	if ns := r.lastTick.Load(); ns > 0 {
		t := time.Unix(0, ns).UTC()
		st.LastTick = &t
	}

	if !lockWithin(&r.mu, statusLockTimeout) {
		return st, fmt.Errorf("status of robot %s: %w", r.id, ErrBusy)
	}
	defer r.mu.Unlock()

	st.Type = r.cfg.Type
	st.Position = r.engine.Position()
	st.Battery = r.engine.Battery()
	st.OrderID = r.engine.CurrentOrderID()
	st.Phase = string(r.engine.Phase())
	st.Driving = r.engine.Driving()
	st.HeaderID = r.engine.HeaderID()
	return st, nil
}

func lockWithin(mu *sync.Mutex, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for !mu.TryLock() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
	return true
}
