package instance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"agv-simulator/models"
)

// ErrEmptyRegistry reports a registry file with no content at all, as left
// by an editor that truncates before writing. An explicit [] is not empty.
var ErrEmptyRegistry = errors.New("registry file is empty")

// descriptorKeys are the top-level keys RobotDescriptor owns. Any other key
// of a registry entry belongs to the operator and is kept on patch.
var descriptorKeys = func() []string {
	t := reflect.TypeOf(models.RobotDescriptor{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys = append(keys, name)
		}
	}
	return keys
}()

// ReadRegistry reads the robot registry file. A missing file is reported
// with an error wrapping fs.ErrNotExist, a blank one with ErrEmptyRegistry.
func ReadRegistry(path string) ([]models.RobotDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("registry %s: %w", path, ErrEmptyRegistry)
	}
	descs, err := models.DecodeRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	return descs, nil
}

// WriteRegistry replaces the registry file atomically.
func WriteRegistry(path string, descs []models.RobotDescriptor) error {
	if descs == nil {
		descs = []models.RobotDescriptor{}
	}
	data, err := json.MarshalIndent(descs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	return writeFileAtomic(path, data)
}

// PatchRegistry rewrites the entry whose identity is id and leaves every
// other entry as written, including entries that do not load. A nil desc
// deletes the entry; an id with no entry is appended. Keys of the old entry
// that RobotDescriptor does not model are kept.
func PatchRegistry(path, id string, desc *models.RobotDescriptor) error {
	entries, err := readRawRegistry(path)
	if err != nil {
		return err
	}

	idx := -1
	for i, raw := range entries {
		if entryIdentity(raw) == id {
			idx = i
			break
		}
	}

	switch {
	case desc == nil && idx < 0:
		return nil
	case desc == nil:
		entries = append(entries[:idx], entries[idx+1:]...)
	case idx < 0:
		data, err := json.Marshal(desc)
		if err != nil {
			return fmt.Errorf("encode registry entry %s: %w", id, err)
		}
		entries = append(entries, data)
	default:
		merged, err := mergeEntry(entries[idx], desc)
		if err != nil {
			return fmt.Errorf("encode registry entry %s: %w", id, err)
		}
		entries[idx] = merged
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	return writeFileAtomic(path, data)
}

func readRawRegistry(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("registry %s: %w: %v", path, models.ErrMalformedPayload, err)
	}
	return entries, nil
}

func entryIdentity(raw json.RawMessage) string {
	var key struct {
		ID           string `json:"id"`
		SerialNumber string `json:"serialNumber"`
	}
	if err := json.Unmarshal(raw, &key); err != nil {
		return ""
	}
	if key.ID != "" {
		return key.ID
	}
	return key.SerialNumber
}

func mergeEntry(raw json.RawMessage, desc *models.RobotDescriptor) (json.RawMessage, error) {
	data, err := json.Marshal(desc)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return data, nil
	}
	for _, key := range descriptorKeys {
		delete(fields, key)
	}
	var updated map[string]json.RawMessage
	if err := json.Unmarshal(data, &updated); err != nil {
		return nil, err
	}
	for key, value := range updated {
		fields[key] = value
	}
	return json.Marshal(fields)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*")
	if err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}
