// Package store persists the identity of the last successfully connected
// peripheral so the daemon can reconnect to it across restarts.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Remembered is the persisted device identity.
type Remembered struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// Store reads and writes one remembered device. Implementations must be
// safe for concurrent use.
type Store interface {
	// Get returns the remembered device, or nil if none is stored.
	Get() (*Remembered, error)
	Set(Remembered) error
	Clear() error
}

// FileStore keeps the remembered device in one YAML file.
type FileStore struct {
	mu       sync.Mutex
	filePath string
}

func NewFileStore(filePath string) *FileStore {
	return &FileStore{filePath: filePath}
}

func (s *FileStore) Get() (*Remembered, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read device state: %w", err)
	}

	var dev Remembered
	if err := yaml.Unmarshal(data, &dev); err != nil {
		return nil, fmt.Errorf("parse device state: %w", err)
	}
	if dev.ID == "" {
		return nil, nil
	}
	return &dev, nil
}

func (s *FileStore) Set(dev Remembered) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("create device state directory: %w", err)
	}
	data, err := yaml.Marshal(dev)
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, data, 0600)
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear device state: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
