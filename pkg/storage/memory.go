package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hutchhq/hutch/pkg/data"
)

// MemoryStorage keeps objects in process memory. It backs transient
// data such as sessions and the boot-time configuration defaults, and
// serves as the storage of choice in tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]*memEntry
}

type memEntry struct {
	path     data.Path
	dict     *data.Dict
	modified time.Time
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]*memEntry)}
}

// Meta returns metadata for the object or index at path.
func (m *MemoryStorage) Meta(path data.Path) (*Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path.IsIndex() {
		if !m.hasIndex(path) {
			return nil, nil
		}
		return &Metadata{Path: path}, nil
	}
	entry, ok := m.objects[path.String()]
	if !ok {
		return nil, nil
	}
	return &Metadata{
		Path:         path,
		Type:         entry.dict.GetString("type", ""),
		LastModified: entry.modified,
	}, nil
}

// Load returns the stored dictionary, or nil when missing.
func (m *MemoryStorage) Load(path data.Path) (*data.Dict, error) {
	if path.IsIndex() {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.objects[path.String()]
	if !ok {
		return nil, nil
	}
	return entry.dict, nil
}

// Store writes the dictionary at path.
func (m *MemoryStorage) Store(path data.Path, d *data.Dict) error {
	if path.IsIndex() {
		return fmt.Errorf("failed to store %s: path is an index", path)
	}
	if d == nil {
		return fmt.Errorf("failed to store %s: nil dictionary", path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path.String()] = &memEntry{
		path:     path,
		dict:     d,
		modified: time.Now(),
	}
	return nil
}

// Remove deletes the object at path. Missing objects are ignored.
func (m *MemoryStorage) Remove(path data.Path) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path.String())
	return nil
}

// Query walks stored objects under path in lexicographic order.
func (m *MemoryStorage) Query(path data.Path, fn QueryFunc) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.objects))
	for key, entry := range m.objects {
		if entry.path.StartsWith(path) {
			keys = append(keys, key)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		m.mu.RLock()
		entry, ok := m.objects[key]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		meta := Metadata{
			Path:         entry.path,
			Type:         entry.dict.GetString("type", ""),
			LastModified: entry.modified,
		}
		if !fn(meta) {
			return nil
		}
	}
	return nil
}

// Close discards all stored objects.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = make(map[string]*memEntry)
	return nil
}

func (m *MemoryStorage) hasIndex(path data.Path) bool {
	if path.IsRoot() {
		return true
	}
	prefix := path.String()
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
