package instance

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"agv-simulator/internal/metrics"
	"agv-simulator/internal/storage"
	"agv-simulator/models"
)

var (
	ErrAlreadyExists     = errors.New("robot already exists")
	ErrNotFound          = errors.New("robot not found")
	ErrInvalidDescriptor = errors.New("invalid robot descriptor")
)

// Monitor policies.
const (
	PolicyLog     = "log"
	PolicyRestart = "restart"
)

const (
	DefaultStopTimeout = 5 * time.Second
	purgeTimeout       = 5 * time.Second
)

// Agent is one simulated robot as the manager sees it.
type Agent interface {
	ID() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	IsRunning() bool
	IsAlive() bool
	Status() (models.RobotStatus, error)
	UpdateConfig(desc models.RobotDescriptor) error
	SendOrder(payload []byte) error
	SendInstantActions(payload []byte) error
}

// AgentFactory builds a stopped agent from a descriptor.
type AgentFactory func(desc models.RobotDescriptor) (Agent, error)

type Options struct {
	RegistryPath string
	// WriteRegistry makes Add, Update and Remove patch their entry in the
	// registry file, so the file stays the source of truth for hot reload.
	WriteRegistry   bool
	Debounce        time.Duration
	MonitorInterval time.Duration
	MonitorPolicy   string
	StopTimeout     time.Duration
	Store           storage.Store
	Logger          *slog.Logger
}

// StatusEntry is one robot in a fleet status. Error is set when the status
// could not be read completely.
type StatusEntry struct {
	Status *models.RobotStatus `json:"status,omitempty"`
	Error  string              `json:"error,omitempty"`
}

type FleetStatus struct {
	Total          int                    `json:"total"`
	Running        int                    `json:"running"`
	ManagerRunning bool                   `json:"managerRunning"`
	Robots         map[string]StatusEntry `json:"robots"`
}

type entry struct {
	agent Agent
	desc  models.RobotDescriptor
}

// Manager owns every simulated robot of the process. All mutations of the
// robot set hold mu.
type Manager struct {
	factory AgentFactory
	opts    Options
	store   storage.Store
	logger  *slog.Logger

	mu      sync.Mutex
	agents  map[string]*entry
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	watcher *RegistryWatcher
	wg      sync.WaitGroup
}

func NewManager(factory AgentFactory, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.MonitorPolicy == "" {
		opts.MonitorPolicy = PolicyLog
	}
	var store storage.Store = storage.Nop{}
	if opts.Store != nil {
		store = opts.Store
	}
	return &Manager{
		factory: factory,
		opts:    opts,
		store:   store,
		logger:  logger.With("component", "instance_manager"),
		agents:  make(map[string]*entry),
		ctx:     context.Background(),
	}
}

// Add registers a new robot and starts it when the manager is running.
func (m *Manager) Add(desc models.RobotDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.addLocked(desc); err != nil {
		return err
	}
	m.patchRegistryLocked(desc.Identity(), &desc)
	return nil
}

func (m *Manager) addLocked(desc models.RobotDescriptor) error {
	agent, err := m.prepareLocked(desc, "")
	if err != nil {
		return err
	}
	m.insertLocked(desc, agent)
	return nil
}

// prepareLocked checks desc against the robot set, ignoring the robot it
// replaces, and builds its agent. Nothing is changed on error.
func (m *Manager) prepareLocked(desc models.RobotDescriptor, replacing string) (Agent, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	id := desc.Identity()
	if _, ok := m.agents[id]; ok && id != replacing {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	for otherID, e := range m.agents {
		if otherID == replacing {
			continue
		}
		if e.desc.SerialNumber == desc.SerialNumber && e.desc.Manufacturer == desc.Manufacturer {
			return nil, fmt.Errorf("%w: serial number %s is used by %s", ErrAlreadyExists, desc.SerialNumber, otherID)
		}
	}

	agent, err := m.factory(desc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return agent, nil
}

func (m *Manager) insertLocked(desc models.RobotDescriptor, agent Agent) {
	id := desc.Identity()
	m.agents[id] = &entry{agent: agent, desc: desc}
	metrics.SetManagedRobots(len(m.agents))
	m.logger.Info("Robot added", "robotId", id, "serialNumber", desc.SerialNumber)

	if m.running {
		if err := agent.Start(m.ctx); err != nil {
			m.logger.Error("Failed to start robot", "robotId", id, slog.Any("error", err))
		}
	}
}

// Remove stops a robot, waiting at most the stop timeout, then forgets it
// and purges what was stored for it.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.removeLocked(id, e)
	m.patchRegistryLocked(id, nil)
	return nil
}

func (m *Manager) removeLocked(id string, e *entry) {
	if err := e.agent.Stop(m.opts.StopTimeout); err != nil {
		m.logger.Warn("Robot did not stop cleanly", "robotId", id, slog.Any("error", err))
	}
	delete(m.agents, id)
	metrics.ForgetRobot(id)
	metrics.SetManagedRobots(len(m.agents))

	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()
	if err := m.store.Purge(ctx, id); err != nil {
		m.logger.Warn("Failed to purge robot storage", "robotId", id, slog.Any("error", err))
	}
	m.logger.Info("Robot removed", "robotId", id)
}

// patchRegistryLocked writes one robot's entry to the registry file; a nil
// desc deletes it. Holding mu keeps concurrent patches from interleaving.
func (m *Manager) patchRegistryLocked(id string, desc *models.RobotDescriptor) {
	if !m.opts.WriteRegistry || m.opts.RegistryPath == "" {
		return
	}
	if err := PatchRegistry(m.opts.RegistryPath, id, desc); err != nil {
		m.logger.Error("Failed to write registry", "robotId", id, slog.Any("error", err))
	}
}

func (m *Manager) descriptorsLocked() []models.RobotDescriptor {
	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	descs := make([]models.RobotDescriptor, 0, len(ids))
	for _, id := range ids {
		descs = append(descs, m.agents[id].desc)
	}
	return descs
}

// Descriptor returns the descriptor a robot was built from.
func (m *Manager) Descriptor(id string) (models.RobotDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return models.RobotDescriptor{}, err
	}
	return e.desc, nil
}

// Update applies a changed descriptor to a registered robot in place. The
// descriptor must keep the robot's identity.
func (m *Manager) Update(id string, desc models.RobotDescriptor) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if desc.Identity() != id {
		return fmt.Errorf("%w: descriptor identity %q does not match %q", ErrInvalidDescriptor, desc.Identity(), id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if e.desc.SerialNumber != desc.SerialNumber || e.desc.Manufacturer != desc.Manufacturer {
		return fmt.Errorf("%w: serialNumber and manufacturer cannot change", ErrInvalidDescriptor)
	}
	if err := e.agent.UpdateConfig(desc); err != nil {
		return err
	}
	e.desc = desc
	m.patchRegistryLocked(id, &desc)
	return nil
}

// Descriptors returns the registered descriptors ordered by id.
func (m *Manager) Descriptors() []models.RobotDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.descriptorsLocked()
}

func (m *Manager) lookup(id string) (*entry, error) {
	e, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

func (m *Manager) StartRobot(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	return e.agent.Start(ctx)
}

func (m *Manager) StopRobot(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	return e.agent.Stop(m.opts.StopTimeout)
}

func (m *Manager) RestartRobot(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if err := e.agent.Stop(m.opts.StopTimeout); err != nil {
		m.logger.Warn("Robot did not stop cleanly before restart", "robotId", id, slog.Any("error", err))
	}
	return e.agent.Start(ctx)
}

// StartAll starts every registered robot and returns how many failed.
func (m *Manager) StartAll(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	failed := 0
	for id, e := range m.agents {
		if err := e.agent.Start(ctx); err != nil {
			failed++
			m.logger.Error("Failed to start robot", "robotId", id, slog.Any("error", err))
		}
	}
	return failed
}

// StopAll stops every registered robot and returns how many failed.
func (m *Manager) StopAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopAllLocked()
}

func (m *Manager) stopAllLocked() int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for id, e := range m.agents {
		wg.Add(1)
		go func(id string, agent Agent) {
			defer wg.Done()
			if err := agent.Stop(m.opts.StopTimeout); err != nil {
				m.logger.Warn("Robot did not stop cleanly", "robotId", id, slog.Any("error", err))
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(id, e.agent)
	}
	wg.Wait()
	return failed
}

// Count is the number of registered robots.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}

// Status reads the status of one robot.
func (m *Manager) Status(id string) (StatusEntry, error) {
	m.mu.Lock()
	e, err := m.lookup(id)
	m.mu.Unlock()
	if err != nil {
		return StatusEntry{}, err
	}
	entry, _ := readStatus(e.agent)
	return entry, nil
}

// StatusAll reads every robot concurrently. A robot whose status fails or
// panics gets an entry with Error set; the others are unaffected.
func (m *Manager) StatusAll() FleetStatus {
	m.mu.Lock()
	agents := make(map[string]Agent, len(m.agents))
	for id, e := range m.agents {
		agents[id] = e.agent
	}
	fleet := FleetStatus{
		Total:          len(agents),
		ManagerRunning: m.running,
		Robots:         make(map[string]StatusEntry, len(agents)),
	}
	m.mu.Unlock()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for id, agent := range agents {
		wg.Add(1)
		go func(id string, agent Agent) {
			defer wg.Done()
			entry, running := readStatus(agent)
			mu.Lock()
			fleet.Robots[id] = entry
			if running {
				fleet.Running++
			}
			mu.Unlock()
		}(id, agent)
	}
	wg.Wait()
	return fleet
}

func readStatus(agent Agent) (entry StatusEntry, running bool) {
	defer func() {
		if r := recover(); r != nil {
			entry = StatusEntry{Error: fmt.Sprintf("status panicked: %v", r)}
			running = false
		}
	}()
	st, err := agent.Status()
	entry.Status = &st
	if err != nil {
		entry.Error = err.Error()
	}
	return entry, agent.IsRunning()
}

// SendOrder forwards an order payload to a robot.
func (m *Manager) SendOrder(id string, payload []byte) error {
	m.mu.Lock()
	e, err := m.lookup(id)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return e.agent.SendOrder(payload)
}

func (m *Manager) SendInstantActions(id string, payload []byte) error {
	m.mu.Lock()
	e, err := m.lookup(id)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return e.agent.SendInstantActions(payload)
}

// LoadRegistry reconciles against the registry file. A missing or blank
// file leaves the robot set as it is.
func (m *Manager) LoadRegistry() error {
	if m.opts.RegistryPath == "" {
		return nil
	}
	descs, err := ReadRegistry(m.opts.RegistryPath)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, ErrEmptyRegistry) {
		m.logger.Info("No robot registry yet", "path", m.opts.RegistryPath)
		return nil
	}
	if err != nil {
		return err
	}
	return m.Reconcile(descs)
}

func (m *Manager) reloadRegistry() {
	descs, err := ReadRegistry(m.opts.RegistryPath)
	if err != nil {
		metrics.RecordReconciliation(false)
		m.logger.Error("Skipping registry reload", slog.Any("error", err))
		return
	}
	if err := m.Reconcile(descs); err != nil {
		m.logger.Warn("Registry reload finished with errors", slog.Any("error", err))
	}
}

// Reconcile makes the robot set match descs in one pass under the manager
// lock: missing robots are removed, new ones added and started, changed
// ones updated in place. A robot whose serial number or manufacturer
// changed is replaced. An entry that fails validation leaves the robot it
// names untouched.
func (m *Manager) Reconcile(descs []models.RobotDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]models.RobotDescriptor, len(descs))
	order := make([]string, 0, len(descs))
	var errs []error
	for _, d := range descs {
		id := d.Identity()
		if id == "" {
			errs = append(errs, fmt.Errorf("%w: registry entry without id or serialNumber", ErrInvalidDescriptor))
			continue
		}
		if _, dup := want[id]; dup {
			errs = append(errs, fmt.Errorf("%w: %s listed twice", ErrAlreadyExists, id))
			continue
		}
		want[id] = d
		order = append(order, id)
	}

	var removed, added, updated, replaced int
	for id, e := range m.agents {
		if _, ok := want[id]; !ok {
			m.removeLocked(id, e)
			removed++
		}
	}

	for _, id := range order {
		d := want[id]
		e, ok := m.agents[id]
		if ok && e.desc.Equal(d) {
			continue
		}
		if ok {
			if err := d.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err))
				continue
			}
		}
		if ok && (e.desc.SerialNumber != d.SerialNumber || e.desc.Manufacturer != d.Manufacturer) {
			agent, err := m.prepareLocked(d, id)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			m.removeLocked(id, e)
			m.insertLocked(d, agent)
			replaced++
			continue
		}
		if !ok {
			if err := m.addLocked(d); err != nil {
				errs = append(errs, err)
				continue
			}
			added++
			continue
		}
		if err := e.agent.UpdateConfig(d); err != nil {
			errs = append(errs, fmt.Errorf("update %s: %w", id, err))
			continue
		}
		e.desc = d
		updated++
	}

	err := errors.Join(errs...)
	metrics.RecordReconciliation(err == nil)
	m.logger.Info("Registry reconciled",
		"added", added,
		"removed", removed,
		"updated", updated,
		"replaced", replaced,
		"robots", len(m.agents),
		"errors", len(errs))
	return err
}

// Start starts every registered robot, the registry watcher and the
// liveness monitor.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	count := len(m.agents)
	for id, e := range m.agents {
		if err := e.agent.Start(m.ctx); err != nil {
			m.logger.Error("Failed to start robot", "robotId", id, slog.Any("error", err))
		}
	}
	m.mu.Unlock()

	if m.opts.RegistryPath != "" {
		w, err := NewRegistryWatcher(m.opts.RegistryPath, m.opts.Debounce, m.reloadRegistry, m.logger)
		if err != nil {
			m.logger.Warn("Hot reload disabled", slog.Any("error", err))
		} else {
			w.Start(m.ctx)
			m.mu.Lock()
			m.watcher = w
			m.mu.Unlock()
		}
	}

	if m.opts.MonitorInterval > 0 {
		m.wg.Add(1)
		go m.monitor(m.ctx, m.opts.MonitorInterval)
	}
	m.logger.Info("Instance manager started", "robots", count, "monitorPolicy", m.opts.MonitorPolicy)
	return nil
}

// Stop stops the watcher, the monitor and then every robot.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	cancel()
	if w != nil {
		if err := w.Close(); err != nil {
			m.logger.Warn("Failed to close registry watcher", slog.Any("error", err))
		}
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopAllLocked()
	m.ctx = context.Background()
	m.logger.Info("Instance manager stopped")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
