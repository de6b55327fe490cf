package settings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by a backend that holds no document yet.
var ErrNotFound = errors.New("settings: document not found")

// Store persists the settings document.
type Store interface {
	// Load returns the stored document, or Default() when none exists.
	Load(ctx context.Context) (*Settings, error)
	Save(ctx context.Context, s *Settings) error
}

// Bootstrap loads the document, normalizes it and writes it back when
// normalization generated ids (e.g. the device id on first run).
func Bootstrap(ctx context.Context, store Store) (*Settings, error) {
	s, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if s.Validate() {
		if err := store.Save(ctx, s); err != nil {
			return nil, fmt.Errorf("failed to persist normalized settings: %w", err)
		}
		log.Printf("✅ Settings normalized and saved (device %s).", s.DeviceID)
	}
	return s, nil
}

func decode(data []byte) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings document: %w", err)
	}
	return s, nil
}

func encode(s *Settings) ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings document: %w", err)
	}
	return data, nil
}

// loadWith turns a backend read into a document, mapping ErrNotFound to defaults.
func loadWith(read func() ([]byte, error)) (*Settings, error) {
	data, err := read()
	if errors.Is(err, ErrNotFound) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// FileStore keeps the document in a YAML file.
type FileStore struct {
	path string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(_ context.Context) (*Settings, error) {
	return loadWith(func() ([]byte, error) {
		data, err := os.ReadFile(f.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file %s: %w", f.path, err)
		}
		return data, nil
	})
}

// Save writes to a temporary file and renames it over the target.
func (f *FileStore) Save(_ context.Context, s *Settings) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp settings file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}
