// Package kvstore provides the scoped key-value persistence layer the
// queue store and the API router state ride on. Adapters must provide
// atomic per-key read-then-write: callers perform read-modify-write
// sequences without additional locking and rely on the adapter to not
// interleave writes to the same key.
package kvstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrInvalidInput = errors.New("invalid input")

// Adapter is the storage contract: string blobs by key, surviving
// process restarts (except the in-memory variant used in tests).
type Adapter interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

type adapterCloser interface {
	Close() error
}

// Close closes the adapter if the implementation holds resources.
func Close(adapter Adapter) error {
	if closer, ok := adapter.(adapterCloser); ok && closer != nil {
		return closer.Close()
	}
	return nil
}

type InMemoryAdapter struct {
	mu     sync.Mutex
	values map[string]string
}

func NewInMemoryAdapter() *InMemoryAdapter {
	return &InMemoryAdapter{values: map[string]string{}}
}

func (a *InMemoryAdapter) Get(key string) (string, bool) {
	if a == nil {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	value, ok := a.values[key]
	return value, ok
}

func (a *InMemoryAdapter) Set(key, value string) error {
	if a == nil || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[key] = value
	return nil
}

func (a *InMemoryAdapter) Remove(key string) error {
	if a == nil {
		return ErrInvalidInput
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.values, key)
	return nil
}

// JSONFileAdapter persists the whole key set as one JSON document,
// rewritten atomically (tmp + rename) on every mutation.
type JSONFileAdapter struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

type jsonFileSnapshot struct {
	Values map[string]string `json:"values"`
}

func NewJSONFileAdapter(path string) (*JSONFileAdapter, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	a := &JSONFileAdapter{path: path, values: map[string]string{}}
	if err := a.load(); err != nil {
		return nil, err
	}
	return a, nil
}

// Path reports the backing file, so callers can watch it for external
// mutation.
func (a *JSONFileAdapter) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}

func (a *JSONFileAdapter) Get(key string) (string, bool) {
	if a == nil {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	value, ok := a.values[key]
	return value, ok
}

func (a *JSONFileAdapter) Set(key, value string) error {
	if a == nil || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	previous, existed := a.values[key]
	a.values[key] = value
	if err := a.saveLocked(); err != nil {
		if existed {
			a.values[key] = previous
		} else {
			delete(a.values, key)
		}
		return err
	}
	return nil
}

func (a *JSONFileAdapter) Remove(key string) error {
	if a == nil {
		return ErrInvalidInput
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	previous, existed := a.values[key]
	if !existed {
		return nil
	}
	delete(a.values, key)
	if err := a.saveLocked(); err != nil {
		a.values[key] = previous
		return err
	}
	return nil
}

func (a *JSONFileAdapter) load() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, err := os.ReadFile(a.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot jsonFileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if snapshot.Values != nil {
		a.values = snapshot.Values
	}
	return nil
}

func (a *JSONFileAdapter) saveLocked() error {
	snapshot := jsonFileSnapshot{Values: a.values}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	dir := filepath.Dir(a.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, a.path)
}
