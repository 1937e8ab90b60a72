package ml

import (
	"fmt"
	"os"
)

// SaveCheckpoint writes the state dict blob atomically.
func SaveCheckpoint(path string, state StateDict) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, MarshalState(state), 0666); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a state dict blob from disk.
func LoadCheckpoint(path string) (StateDict, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	state, err := UnmarshalState(data)
	if err != nil {
		return nil, fmt.Errorf("decoding checkpoint %s: %w", path, err)
	}
	return state, nil
}
