package cnn

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

const modelFormatVersion = 1

type modelFile struct {
	Version int         `msgpack:"version"`
	Config  Config      `msgpack:"config"`
	Tensors [][]float64 `msgpack:"tensors"`
}

// Save writes the topology and every tensor, batch norm statistics
// included, as msgpack. The file is written next to path and renamed into place.
func (n *Network) Save(path string) error {
	n.mu.Lock()
	file := modelFile{Version: modelFormatVersion, Config: n.cfg, Tensors: n.snapshot()}
	n.mu.Unlock()

	data, err := msgpack.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create model directory: %w", err)
		}
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load reads a network written by Save.
func Load(path string) (*Network, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	var file modelFile
	if err := msgpack.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if file.Version != modelFormatVersion {
		return nil, fmt.Errorf("unsupported model format version %d", file.Version)
	}

	n, err := New(file.Config)
	if err != nil {
		return nil, fmt.Errorf("model config: %w", err)
	}
	if err := n.restore(file.Tensors); err != nil {
		return nil, fmt.Errorf("model tensors: %w", err)
	}
	return n, nil
}
