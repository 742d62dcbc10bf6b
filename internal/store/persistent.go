// Package store holds the small JSON documents the daemon persists
// across restarts: alert acknowledgements, the device baseline,
// investigations, report schedules, and the detection-pack registry.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// PersistentMap is a mutex-guarded string-keyed map mirrored to a JSON
// file. Loading tolerates a missing or corrupt file; saving writes to
// a temp file and renames.
type PersistentMap[V any] struct {
	mu   sync.Mutex
	path string
	data map[string]V
}

// NewPersistentMap loads the file at path. A missing file yields an
// empty map; a corrupt file logs a warning and yields an empty map.
func NewPersistentMap[V any](path string) *PersistentMap[V] {
	m := &PersistentMap[V]{path: path, data: map[string]V{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Store unreadable, starting empty")
		}
		return m
	}
	if err := json.Unmarshal(raw, &m.data); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Store corrupt, starting empty")
		m.data = map[string]V{}
	}
	return m
}

// Get returns the value for key.
func (m *PersistentMap[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

// Set stores key and persists.
func (m *PersistentMap[V]) Set(key string, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return m.save()
}

// Delete removes key and persists. Removing an absent key is a no-op
// that reports false.
func (m *PersistentMap[V]) Delete(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return false, nil
	}
	delete(m.data, key)
	return true, m.save()
}

// Update runs fn over the map under the lock, then persists. The
// callback must not retain the map.
func (m *PersistentMap[V]) Update(fn func(map[string]V)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.data)
	return m.save()
}

// All returns a copy of the map.
func (m *PersistentMap[V]) All() map[string]V {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]V, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}

// Len reports the number of entries.
func (m *PersistentMap[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// save writes the map with write-and-rename semantics. Callers hold
// the lock.
func (m *PersistentMap[V]) save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("store dir: %w", err)
	}
	data, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return fmt.Errorf("store encode: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store write: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store rename: %w", err)
	}
	return nil
}
