package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

const (
	fileMode = 0644
	dirMode  = 0755
)

// FileStore keeps the key-value state in one JSON file. Every Set
// rewrites the file atomically (tmp, fsync, rename), so a crash leaves
// either the old or the new state, never a torn file. A flock sidecar
// keeps two processes from mutating the same state file; in-process
// callers are serialized by the mutex.
type FileStore struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
	data map[string]string
}

// NewFileStore opens or creates the state file at path and takes the
// process lock. It fails when another process already holds the lock.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("statestore: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("statestore: mkdir: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("statestore: lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("statestore: %s is locked by another process", path)
	}

	data, err := loadState(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	return &FileStore{path: path, lock: lock, data: data}, nil
}

// Get returns the value for key and whether it was present.
func (f *FileStore) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

// Set stores value under key and persists the full state atomically.
func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	old, had := f.data[key]
	f.data[key] = value
	if err := f.persist(); err != nil {
		// Keep the in-memory view consistent with the file on failure.
		if had {
			f.data[key] = old
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

// Exists reports whether key is present.
func (f *FileStore) Exists(key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

// Close releases the process lock. The state file stays behind for the
// next start.
func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lock == nil {
		return nil
	}
	err := f.lock.Unlock()
	f.lock = nil
	return err
}

func (f *FileStore) persist() error {
	payload, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: marshal: %w", err)
	}
	payload = append(payload, '\n')

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, payload, fileMode); err != nil {
		return fmt.Errorf("statestore: write tmp: %w", err)
	}

	file, err := os.OpenFile(tmp, os.O_RDWR, fileMode)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("statestore: open tmp: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("statestore: sync tmp: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("statestore: close tmp: %w", err)
	}

	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("statestore: rename: %w", err)
	}
	return nil
}

func loadState(path string) (map[string]string, error) {
	data := make(map[string]string)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return data, nil
		}
		return nil, fmt.Errorf("statestore: read: %w", err)
	}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("statestore: parse %s: %w", path, err)
	}
	return data, nil
}
