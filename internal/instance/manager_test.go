package instance

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agv-simulator/models"
)

type fakeAgent struct {
	mu          sync.Mutex
	id          string
	desc        models.RobotDescriptor
	running     bool
	alive       bool
	starts      int
	stops       int
	updates     int
	statusErr   error
	statusPanic bool
	orders      [][]byte
}

func (a *fakeAgent) ID() string { return a.id }

func (a *fakeAgent) Start(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts++
	a.running, a.alive = true, true
	return nil
}

func (a *fakeAgent) Stop(time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
	a.running, a.alive = false, false
	return nil
}

func (a *fakeAgent) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

func (a *fakeAgent) IsAlive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alive
}

func (a *fakeAgent) Status() (models.RobotStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.statusPanic {
		panic("status exploded")
	}
	return models.RobotStatus{ID: a.id, SerialNumber: a.desc.SerialNumber}, a.statusErr
}

func (a *fakeAgent) UpdateConfig(desc models.RobotDescriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updates++
	a.desc = desc
	return nil
}

func (a *fakeAgent) SendOrder(payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders = append(a.orders, payload)
	return nil
}

func (a *fakeAgent) SendInstantActions([]byte) error { return nil }

func (a *fakeAgent) counts() (starts, stops, updates int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts, a.stops, a.updates
}

type fakeFleet struct {
	mu     sync.Mutex
	agents map[string]*fakeAgent
	built  int
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{agents: make(map[string]*fakeAgent)}
}

func (f *fakeFleet) factory(desc models.RobotDescriptor) (Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.built++
	a := &fakeAgent{id: desc.Identity(), desc: desc}
	f.agents[a.id] = a
	return a, nil
}

func (f *fakeFleet) get(id string) *fakeAgent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents[id]
}

type purgeRecorder struct {
	mu     sync.Mutex
	purged []string
}

func (p *purgeRecorder) SaveState(context.Context, string, *models.State) error           { return nil }
func (p *purgeRecorder) SaveConnection(context.Context, string, *models.Connection) error { return nil }
func (p *purgeRecorder) SaveOrder(context.Context, string, *models.Order) error           { return nil }

func (p *purgeRecorder) Purge(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purged = append(p.purged, id)
	return nil
}

func (p *purgeRecorder) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.purged...)
}

func desc(serial string) models.RobotDescriptor {
	return models.RobotDescriptor{SerialNumber: serial, Manufacturer: "Acme"}
}

func TestConcurrentAddSameIdentity(t *testing.T) {
	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{})

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Add(desc("AGV-1"))
		}()
	}
	wg.Wait()
	close(errs)

	var ok, exists int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyExists):
			exists++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, exists)
	assert.Len(t, m.Descriptors(), 1)
	assert.Equal(t, 1, fleet.built)
}

func TestAddRejectsInvalidAndDuplicateSerial(t *testing.T) {
	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{})

	err := m.Add(models.RobotDescriptor{Manufacturer: "Acme"})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
	assert.Equal(t, 0, fleet.built)

	require.NoError(t, m.Add(models.RobotDescriptor{ID: "a", SerialNumber: "AGV-1", Manufacturer: "Acme"}))
	err = m.Add(models.RobotDescriptor{ID: "b", SerialNumber: "AGV-1", Manufacturer: "Acme"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Len(t, m.Descriptors(), 1)
}

func TestAddStartsOnlyWhenRunning(t *testing.T) {
	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{})

	require.NoError(t, m.Add(desc("AGV-1")))
	assert.False(t, fleet.get("AGV-1").IsRunning())

	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	assert.True(t, fleet.get("AGV-1").IsRunning())

	require.NoError(t, m.Add(desc("AGV-2")))
	assert.True(t, fleet.get("AGV-2").IsRunning())

	m.Stop()
	assert.False(t, fleet.get("AGV-1").IsRunning())
	assert.False(t, fleet.get("AGV-2").IsRunning())
	assert.False(t, m.IsRunning())
}

func TestRemoveStopsAndPurges(t *testing.T) {
	fleet := newFakeFleet()
	store := &purgeRecorder{}
	m := NewManager(fleet.factory, Options{Store: store})
	require.NoError(t, m.Add(desc("AGV-1")))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	require.NoError(t, m.Remove("AGV-1"))
	_, stops, _ := fleet.get("AGV-1").counts()
	assert.Equal(t, 1, stops)
	assert.Equal(t, []string{"AGV-1"}, store.ids())
	assert.Empty(t, m.Descriptors())

	assert.ErrorIs(t, m.Remove("AGV-1"), ErrNotFound)
	_, err := m.Status("AGV-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRobotControls(t *testing.T) {
	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{})
	require.NoError(t, m.Add(desc("AGV-1")))
	ctx := context.Background()

	require.NoError(t, m.StartRobot(ctx, "AGV-1"))
	require.NoError(t, m.StopRobot("AGV-1"))
	require.NoError(t, m.RestartRobot(ctx, "AGV-1"))
	starts, stops, _ := fleet.get("AGV-1").counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, stops)

	require.NoError(t, m.SendOrder("AGV-1", []byte(`{}`)))
	assert.Len(t, fleet.get("AGV-1").orders, 1)

	assert.ErrorIs(t, m.StartRobot(ctx, "nope"), ErrNotFound)
	assert.ErrorIs(t, m.SendInstantActions("nope", nil), ErrNotFound)
}

func TestStatusAllIsolatesFailures(t *testing.T) {
	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{})
	for _, s := range []string{"ok", "broken", "panics"} {
		require.NoError(t, m.Add(desc(s)))
	}
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	fleet.get("broken").statusErr = errors.New("robot is busy")
	fleet.get("panics").statusPanic = true

	status := m.StatusAll()
	assert.Equal(t, 3, status.Total)
	assert.True(t, status.ManagerRunning)
	require.Len(t, status.Robots, 3)

	assert.Empty(t, status.Robots["ok"].Error)
	assert.Equal(t, "ok", status.Robots["ok"].Status.ID)

	assert.Equal(t, "robot is busy", status.Robots["broken"].Error)
	assert.NotNil(t, status.Robots["broken"].Status)

	assert.Contains(t, status.Robots["panics"].Error, "status exploded")
	assert.Nil(t, status.Robots["panics"].Status)

	assert.Equal(t, 2, status.Running)
}

func TestReconcile(t *testing.T) {
	fleet := newFakeFleet()
	store := &purgeRecorder{}
	m := NewManager(fleet.factory, Options{Store: store})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	require.NoError(t, m.Reconcile([]models.RobotDescriptor{desc("a"), desc("b"), desc("c")}))
	assert.Len(t, m.Descriptors(), 3)

	moved := desc("b")
	moved.Position = &models.RobotPosition{X: 4, Y: 2}
	replaced := models.RobotDescriptor{ID: "c", SerialNumber: "c-2", Manufacturer: "Acme"}
	require.NoError(t, m.Reconcile([]models.RobotDescriptor{moved, replaced, desc("d")}))

	assert.Equal(t, []string{"a", "c"}, store.ids())

	starts, stops, updates := fleet.get("b").counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, stops)
	assert.Equal(t, 1, updates)

	assert.Equal(t, "c-2", fleet.get("c").desc.SerialNumber)
	assert.True(t, fleet.get("d").IsRunning())

	ids := []string{}
	for _, d := range m.Descriptors() {
		ids = append(ids, d.Identity())
	}
	assert.Equal(t, []string{"b", "c", "d"}, ids)

	// Unchanged descriptors are left alone.
	require.NoError(t, m.Reconcile([]models.RobotDescriptor{moved, replaced, desc("d")}))
	_, _, updates = fleet.get("b").counts()
	assert.Equal(t, 1, updates)
}

func TestReconcileKeepsRobotWhenEntryTurnsInvalid(t *testing.T) {
	fleet := newFakeFleet()
	store := &purgeRecorder{}
	m := NewManager(fleet.factory, Options{Store: store})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	require.NoError(t, m.Reconcile([]models.RobotDescriptor{desc("a")}))

	err := m.Reconcile([]models.RobotDescriptor{{SerialNumber: "a"}})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
	assert.Equal(t, 1, m.Count())
	assert.Empty(t, store.ids())
	assert.True(t, fleet.get("a").IsRunning())
	_, stops, updates := fleet.get("a").counts()
	assert.Equal(t, 0, stops)
	assert.Equal(t, 0, updates)

	got, err := m.Descriptor("a")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Manufacturer)
}

func TestReconcileKeepsRobotWhenReplacementCollides(t *testing.T) {
	fleet := newFakeFleet()
	store := &purgeRecorder{}
	m := NewManager(fleet.factory, Options{Store: store})
	require.NoError(t, m.Reconcile([]models.RobotDescriptor{
		{ID: "r1", SerialNumber: "AGV-1", Manufacturer: "Acme"},
		{ID: "r2", SerialNumber: "AGV-2", Manufacturer: "Acme"},
	}))

	err := m.Reconcile([]models.RobotDescriptor{
		{ID: "r1", SerialNumber: "AGV-1", Manufacturer: "Acme"},
		{ID: "r2", SerialNumber: "AGV-1", Manufacturer: "Acme"},
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, 2, m.Count())
	assert.Empty(t, store.ids())

	got, err := m.Descriptor("r2")
	require.NoError(t, err)
	assert.Equal(t, "AGV-2", got.SerialNumber)
}

func TestReconcileReportsBadEntries(t *testing.T) {
	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{})

	err := m.Reconcile([]models.RobotDescriptor{desc("a"), desc("a"), {Manufacturer: "Acme"}})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
	assert.Len(t, m.Descriptors(), 1)
}

func TestAddAndRemoveRewriteRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registered_robots.json")
	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{RegistryPath: path, WriteRegistry: true})

	require.NoError(t, m.Add(desc("b")))
	require.NoError(t, m.Add(desc("a")))
	descs, err := ReadRegistry(path)
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, "b", descs[0].SerialNumber)
	assert.Equal(t, "a", descs[1].SerialNumber)

	require.NoError(t, m.Remove("a"))
	descs, err = ReadRegistry(path)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, "b", descs[0].SerialNumber)
}

func TestRegistryWritesKeepHandWrittenEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registered_robots.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"serialNumber": "a", "manufacturer": "Acme", "name": "keep me"},
		{"serialNumber": "b"}
	]`), 0o644))

	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{RegistryPath: path, WriteRegistry: true})
	assert.ErrorIs(t, m.LoadRegistry(), ErrInvalidDescriptor)
	require.Equal(t, 1, m.Count())

	require.NoError(t, m.Add(desc("c")))
	moved := desc("a")
	moved.Position = &models.RobotPosition{X: 2, Y: 5}
	require.NoError(t, m.Update("a", moved))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 3)

	assert.Equal(t, "a", entries[0]["serialNumber"])
	assert.Equal(t, "keep me", entries[0]["name"])
	assert.NotNil(t, entries[0]["position"])
	assert.Equal(t, map[string]interface{}{"serialNumber": "b"}, entries[1])
	assert.Equal(t, "c", entries[2]["serialNumber"])

	require.NoError(t, m.Remove("a"))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	entries = nil
	require.NoError(t, json.Unmarshal(data, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0]["serialNumber"])
	assert.Equal(t, "c", entries[1]["serialNumber"])
}

func TestPatchRegistryRefusesMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registered_robots.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"serialNumber": `), 0o644))

	d := desc("a")
	assert.ErrorIs(t, PatchRegistry(path, "a", &d), models.ErrMalformedPayload)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `[{"serialNumber": `, string(data))
}

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registered_robots.json")
	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{RegistryPath: path})

	require.NoError(t, m.LoadRegistry())
	assert.Empty(t, m.Descriptors())

	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": "r1", "serialNumber": "AGV-1", "manufacturer": "Acme"},
		{"serialNumber": "AGV-2", "manufacturer": "Acme"}
	]`), 0o644))
	require.NoError(t, m.LoadRegistry())
	assert.Len(t, m.Descriptors(), 2)
	assert.NotNil(t, fleet.get("r1"))

	require.NoError(t, os.WriteFile(path, []byte(`{"not": "an array"}`), 0o644))
	assert.ErrorIs(t, m.LoadRegistry(), models.ErrMalformedPayload)

	require.NoError(t, os.WriteFile(path, []byte(" \n"), 0o644))
	require.NoError(t, m.LoadRegistry())
	assert.Len(t, m.Descriptors(), 2)
}

func TestCheckLiveness(t *testing.T) {
	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{})
	require.NoError(t, m.Add(desc("healthy")))
	require.NoError(t, m.Add(desc("dead")))
	require.NoError(t, m.Add(desc("stopped")))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	require.NoError(t, m.StopRobot("stopped"))

	dead := fleet.get("dead")
	dead.mu.Lock()
	dead.alive = false
	dead.mu.Unlock()

	assert.Equal(t, []string{"dead"}, m.CheckLiveness(context.Background()))
	starts, _, _ := dead.counts()
	assert.Equal(t, 1, starts)
	assert.False(t, dead.IsAlive())
}

func TestCheckLivenessRestartPolicy(t *testing.T) {
	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{MonitorPolicy: PolicyRestart})
	require.NoError(t, m.Add(desc("dead")))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	dead := fleet.get("dead")
	dead.mu.Lock()
	dead.alive = false
	dead.mu.Unlock()

	assert.Equal(t, []string{"dead"}, m.CheckLiveness(context.Background()))
	starts, stops, _ := dead.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 1, stops)
	assert.True(t, dead.IsAlive())
	assert.Empty(t, m.CheckLiveness(context.Background()))
}

func TestMonitorRunsPeriodically(t *testing.T) {
	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{MonitorPolicy: PolicyRestart, MonitorInterval: 20 * time.Millisecond})
	require.NoError(t, m.Add(desc("dead")))
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	dead := fleet.get("dead")
	dead.mu.Lock()
	dead.alive = false
	dead.mu.Unlock()

	require.Eventually(t, func() bool {
		starts, _, _ := dead.counts()
		return starts == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpdateAppliesInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registered_robots.json")
	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{RegistryPath: path, WriteRegistry: true})
	require.NoError(t, m.Add(desc("AGV-1")))

	moved := desc("AGV-1")
	moved.Position = &models.RobotPosition{X: 3, Y: 3}
	require.NoError(t, m.Update("AGV-1", moved))

	_, _, updates := fleet.get("AGV-1").counts()
	assert.Equal(t, 1, updates)
	got, err := m.Descriptor("AGV-1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Position.X)

	descs, err := ReadRegistry(path)
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, 3.0, descs[0].Position.X)

	assert.ErrorIs(t, m.Update("AGV-1", desc("AGV-2")), ErrInvalidDescriptor)
	assert.ErrorIs(t, m.Update("AGV-9", desc("AGV-9")), ErrNotFound)
}

func TestStartAllAndStopAll(t *testing.T) {
	fleet := newFakeFleet()
	m := NewManager(fleet.factory, Options{})
	require.NoError(t, m.Add(desc("a")))
	require.NoError(t, m.Add(desc("b")))
	assert.Equal(t, 2, m.Count())

	assert.Equal(t, 0, m.StartAll(context.Background()))
	assert.True(t, fleet.get("a").IsRunning())
	assert.True(t, fleet.get("b").IsRunning())

	assert.Equal(t, 0, m.StopAll())
	assert.False(t, fleet.get("a").IsRunning())
	assert.False(t, fleet.get("b").IsRunning())
}
