package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/log"
	"github.com/hutchhq/hutch/pkg/metrics"
)

// WriteBackFunc persists a modified object dictionary during cache
// eviction.
type WriteBackFunc func(path data.Path, d *data.Dict) error

// Cache holds live objects keyed by storage path. Objects stay cached
// while active; the periodic sweep passivates every object, writes
// back modified ones and evicts the inactive.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	path data.Path
	obj  Object
}

// NewCache creates an empty object cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

// Get returns the cached object at path, or nil.
func (c *Cache) Get(path data.Path) Object {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.entries[path.String()]; ok {
		return entry.obj
	}
	return nil
}

// Put caches an object unless the path is already occupied, and
// returns the object that ends up cached. Callers must discard their
// instance when another one won the race.
func (c *Cache) Put(path data.Path, obj Object) Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[path.String()]; ok {
		return entry.obj
	}
	c.entries[path.String()] = &cacheEntry{path: path, obj: obj}
	metrics.CacheObjects.Set(float64(len(c.entries)))
	return obj
}

// Remove evicts and destroys the object at path without a write-back.
// Used when a store or remove supersedes the cached state.
func (c *Cache) Remove(path data.Path) {
	c.mu.Lock()
	entry, ok := c.entries[path.String()]
	if ok {
		delete(c.entries, path.String())
		metrics.CacheObjects.Set(float64(len(c.entries)))
	}
	c.mu.Unlock()
	if ok {
		entry.obj.Destroy()
		metrics.CacheEvictionsTotal.Inc()
	}
}

// Size returns the number of cached objects.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clean passivates all cached objects and evicts the inactive ones,
// writing back modified objects first. With force set, every object is
// evicted regardless of activity. Objects whose write-back fails stay
// cached for the next sweep.
func (c *Cache) Clean(now time.Time, force bool, write WriteBackFunc) {
	logger := log.WithComponent("storage")
	for _, entry := range c.snapshot() {
		entry.obj.Passivate()
		if !force && entry.obj.IsActive(now) {
			continue
		}
		if !c.unlink(entry) {
			continue
		}
		if entry.obj.IsModified() && write != nil {
			if err := write(entry.path, entry.obj.Dict()); err != nil {
				logger.Error().
					Err(err).
					Str("path", entry.path.String()).
					Msg("Object write-back failed, keeping cached")
				c.relink(entry)
				continue
			}
			clearModified(entry.obj)
		}
		entry.obj.Destroy()
		metrics.CacheEvictionsTotal.Inc()
	}
	c.mu.RLock()
	metrics.CacheObjects.Set(float64(len(c.entries)))
	c.mu.RUnlock()
}

// Flush writes back and evicts all objects under prefix. Objects are
// evicted even when their write-back fails, since the backing mount
// may be going away. The first write-back error is returned.
func (c *Cache) Flush(prefix data.Path, write WriteBackFunc) error {
	logger := log.WithComponent("storage")
	var firstErr error
	for _, entry := range c.snapshot() {
		if !entry.path.StartsWith(prefix) {
			continue
		}
		if !c.unlink(entry) {
			continue
		}
		if entry.obj.IsModified() && write != nil {
			if err := write(entry.path, entry.obj.Dict()); err != nil {
				logger.Error().
					Err(err).
					Str("path", entry.path.String()).
					Msg("Object write-back failed during flush")
				if firstErr == nil {
					firstErr = fmt.Errorf("failed to flush %s: %w", entry.path, err)
				}
			}
		}
		entry.obj.Destroy()
		metrics.CacheEvictionsTotal.Inc()
	}
	c.mu.RLock()
	metrics.CacheObjects.Set(float64(len(c.entries)))
	c.mu.RUnlock()
	return firstErr
}

func (c *Cache) snapshot() []*cacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make([]*cacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	return entries
}

// unlink removes the entry from the map if it is still the current
// one. Returns false when the entry was already replaced or removed.
func (c *Cache) unlink(entry *cacheEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, ok := c.entries[entry.path.String()]
	if !ok || current != entry {
		return false
	}
	delete(c.entries, entry.path.String())
	return true
}

func (c *Cache) relink(entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[entry.path.String()]; !ok {
		c.entries[entry.path.String()] = entry
	}
}

func clearModified(obj Object) {
	if base, ok := obj.(interface{ ClearModified() }); ok {
		base.ClearModified()
	}
}
