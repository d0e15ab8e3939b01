package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcin-skalski/prwatch/internal/pr"
)

// FileStore persists State as JSON at Path.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load returns an empty state when the file does not exist yet.
func (f *FileStore) Load() (State, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return State{Version: SchemaVersion, Records: map[string]Record{}}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read watch state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parse watch state: %w", err)
	}
	if state.Version != SchemaVersion {
		return State{}, fmt.Errorf("watch state %s has schema version %d, want %d", f.Path, state.Version, SchemaVersion)
	}
	if state.Records == nil {
		state.Records = map[string]Record{}
	}
	for id := range state.Records {
		if _, _, err := pr.ParseKey(id); err != nil {
			return State{}, fmt.Errorf("watch state %s: %w", f.Path, err)
		}
	}
	return state, nil
}

// Save writes to a temp file in the same directory and renames it over Path.
func (f *FileStore) Save(state State) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode watch state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".watch-*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replace watch state: %w", err)
	}
	return nil
}
