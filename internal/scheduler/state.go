package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LoadState reads the scheduler state from a JSON file. Returns a zero state if the file doesn't exist.
func LoadState(filePath string) (State, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode state %s: %w", filePath, err)
	}
	return st, nil
}

// SaveState writes the scheduler state to a JSON file, replacing it atomically.
func SaveState(filePath string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}
