package storage

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"agv-simulator/models"
)

const (
	stateFile      = "state.json"
	connectionFile = "connection.json"
	historyFile    = "history.jsonl"
	ordersDir      = "orders"

	// DefaultHistoryLimit caps history.jsonl.
	DefaultHistoryLimit = 100
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// safeName maps an id to a single path element. A rewritten id gets a
// short hash of the original, so ids that differ only in replaced
// characters keep separate folders.
func safeName(id string) string {
	name := unsafeName.ReplaceAllString(id, "_")
	if name == "" || name == "." || name == ".." {
		name = "_"
	}
	if name == id {
		return name
	}
	sum := sha256.Sum256([]byte(id))
	return name + "-" + hex.EncodeToString(sum[:4])
}

type historyEntry struct {
	Time          time.Time `json:"time"`
	Kind          string    `json:"kind"`
	HeaderID      int64     `json:"headerId,omitempty"`
	OrderID       string    `json:"orderId,omitempty"`
	Connection    string    `json:"connectionState,omitempty"`
	LastNodeID    string    `json:"lastNodeId,omitempty"`
	Driving       bool      `json:"driving,omitempty"`
	BatteryCharge float64   `json:"batteryCharge,omitempty"`
}

// FileStore keeps one folder per robot below a root directory.
type FileStore struct {
	root         string
	historyLimit int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileStore(root string, historyLimit int) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir %s: %w", root, err)
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &FileStore{root: root, historyLimit: historyLimit, locks: make(map[string]*sync.Mutex)}, nil
}

// RobotDir returns the folder of a robot.
func (f *FileStore) RobotDir(robotID string) string {
	return filepath.Join(f.root, safeName(robotID))
}

func (f *FileStore) lock(robotID string) func() {
	f.mu.Lock()
	l, ok := f.locks[robotID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[robotID] = l
	}
	f.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (f *FileStore) SaveState(ctx context.Context, robotID string, state *models.State) error {
	defer f.lock(robotID)()
	if err := f.writeJSON(filepath.Join(f.RobotDir(robotID), stateFile), state); err != nil {
		return err
	}
	return f.appendHistory(robotID, historyEntry{
		Time:          time.Now().UTC(),
		Kind:          "state",
		HeaderID:      state.HeaderID,
		OrderID:       state.OrderID,
		LastNodeID:    state.LastNodeID,
		Driving:       state.Driving,
		BatteryCharge: state.BatteryState.BatteryCharge,
	})
}

func (f *FileStore) SaveConnection(ctx context.Context, robotID string, conn *models.Connection) error {
	defer f.lock(robotID)()
	if err := f.writeJSON(filepath.Join(f.RobotDir(robotID), connectionFile), conn); err != nil {
		return err
	}
	return f.appendHistory(robotID, historyEntry{
		Time:       time.Now().UTC(),
		Kind:       "connection",
		HeaderID:   conn.HeaderID,
		Connection: string(conn.ConnectionState),
	})
}

func (f *FileStore) SaveOrder(ctx context.Context, robotID string, order *models.Order) error {
	defer f.lock(robotID)()
	name := safeName(order.OrderID) + ".json"
	if err := f.writeJSON(filepath.Join(f.RobotDir(robotID), ordersDir, name), order); err != nil {
		return err
	}
	return f.appendHistory(robotID, historyEntry{
		Time:    time.Now().UTC(),
		Kind:    "order",
		OrderID: order.OrderID,
	})
}

// Purge removes the robot's folder. A missing folder is not an error.
func (f *FileStore) Purge(ctx context.Context, robotID string) error {
	defer f.lock(robotID)()
	if err := os.RemoveAll(f.RobotDir(robotID)); err != nil {
		return fmt.Errorf("failed to remove storage of robot %s: %w", robotID, err)
	}
	return nil
}

// LoadState reads the last saved state of a robot.
func (f *FileStore) LoadState(robotID string) (*models.State, error) {
	data, err := os.ReadFile(filepath.Join(f.RobotDir(robotID), stateFile))
	if err != nil {
		return nil, err
	}
	return models.DecodeState(data)
}

// History returns the raw history lines of a robot, oldest first.
func (f *FileStore) History(robotID string) ([]json.RawMessage, error) {
	defer f.lock(robotID)()
	lines, err := f.readHistory(robotID)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(lines))
	for _, l := range lines {
		out = append(out, json.RawMessage(l))
	}
	return out, nil
}

// writeJSON replaces path atomically.
func (f *FileStore) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (f *FileStore) readHistory(robotID string) ([][]byte, error) {
	file, err := os.Open(filepath.Join(f.RobotDir(robotID), historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
	}
	return lines, scanner.Err()
}

// appendHistory adds one line and keeps only the newest historyLimit lines.
func (f *FileStore) appendHistory(robotID string, entry historyEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	lines, err := f.readHistory(robotID)
	if err != nil {
		return fmt.Errorf("failed to read history of robot %s: %w", robotID, err)
	}
	lines = append(lines, line)
	if len(lines) > f.historyLimit {
		lines = lines[len(lines)-f.historyLimit:]
	}

	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	path := filepath.Join(f.RobotDir(robotID), historyFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write history of robot %s: %w", robotID, err)
	}
	return nil
}
