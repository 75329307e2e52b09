package pairing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists the pairing state snapshot. The manager writes the
// whole state through on every mutation.
type Store interface {
	// Load returns the persisted state, or (nil, nil) when there is
	// no usable prior state.
	Load() (*State, error)
	// Save replaces the persisted snapshot.
	Save(*State) error
}

// FileStore keeps the state as one JSON document in the data dir.
type FileStore struct {
	path string
}

// NewFileStore stores state at dir/device.json.
func NewFileStore(dir string) *FileStore {
	return &FileStore{path: filepath.Join(dir, "device.json")}
}

// Load reads the snapshot. A missing or corrupt file is "no prior
// state", not an error, so a damaged install can re-initialize.
func (s *FileStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, nil
	}
	if st.Device.DeviceID == "" {
		return nil, nil
	}
	return &st, nil
}

// Save writes the snapshot with restrictive permissions.
func (s *FileStore) Save(st *State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}
