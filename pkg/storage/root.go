package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/events"
	"github.com/hutchhq/hutch/pkg/log"
)

// Root is the unified storage tree. Backing storages are mounted at
// unique paths and optionally overlaid onto a shared subtree, where
// mount priority decides shadowing. Reads return the first hit in
// priority order, writes go to the first writable mount covering the
// path.
//
// Root also fronts the object cache: LoadObject constructs typed
// objects through the initializer registry and keeps them live while
// active.
type Root struct {
	mu        sync.RWMutex
	mounts    []*mountPoint
	sorted    []*mountPoint
	nextOrder int
	cache     *Cache
	registry  *Registry
	broker    *events.Broker
	log       zerolog.Logger
}

type mountPoint struct {
	storage  Storage
	path     data.Path
	readOnly bool
	overlay  data.Path
	prio     int
	order    int
}

// MountInfo describes one active mount for introspection.
type MountInfo struct {
	Path     data.Path
	ReadOnly bool
	Overlay  data.Path
	Prio     int
	Backing  string
}

type located struct {
	mount *mountPoint
	sub   data.Path
}

// NewRoot creates an empty storage tree. The broker is optional; when
// set, object store and remove events are published on it.
func NewRoot(broker *events.Broker) *Root {
	return &Root{
		cache:    NewCache(),
		registry: NewRegistry(),
		broker:   broker,
		log:      log.WithComponent("storage"),
	}
}

// Registry returns the object initializer registry.
func (r *Root) Registry() *Registry {
	return r.registry
}

// Mount adds a backing storage at the given index path. New mounts
// are read-only with priority zero and no overlay until remounted.
func (r *Root) Mount(s Storage, path data.Path) error {
	if path.IsZero() || path.IsRoot() || !path.IsIndex() {
		return fmt.Errorf("failed to mount %s: mount point must be a non-root index", path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.mounts {
		if m.path.Equal(path) {
			return fmt.Errorf("failed to mount %s: already mounted", path)
		}
	}
	m := &mountPoint{
		storage:  s,
		path:     path,
		readOnly: true,
		order:    r.nextOrder,
	}
	r.nextOrder++
	r.mounts = append(r.mounts, m)
	r.resort()
	r.log.Info().
		Str("path", path.String()).
		Str("backing", fmt.Sprintf("%T", s)).
		Msg("Storage mounted")
	return nil
}

// Remount changes the write flag, overlay and priority of an existing
// mount. Cached objects under the new overlay are flushed so resolution
// changes take effect immediately.
func (r *Root) Remount(path data.Path, readOnly bool, overlay data.Path, prio int) error {
	r.mu.Lock()
	var target *mountPoint
	for _, m := range r.mounts {
		if m.path.Equal(path) {
			target = m
			break
		}
	}
	if target == nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to remount %s: %w", path, ErrNotFound)
	}
	oldOverlay := target.overlay
	target.readOnly = readOnly
	target.overlay = overlay
	target.prio = prio
	r.resort()
	r.mu.Unlock()

	if !oldOverlay.IsZero() && !oldOverlay.Equal(overlay) {
		r.cache.Flush(oldOverlay, r.writeBack)
	}
	if !overlay.IsZero() {
		r.cache.Flush(overlay, r.writeBack)
	}
	r.log.Info().
		Str("path", path.String()).
		Bool("readonly", readOnly).
		Str("overlay", overlay.String()).
		Int("prio", prio).
		Msg("Storage remounted")
	return nil
}

// Unmount removes a mounted storage and closes it. Cached objects
// under the mount point and its overlay are written back against the
// remaining mounts and evicted.
func (r *Root) Unmount(path data.Path) error {
	r.mu.Lock()
	var target *mountPoint
	for i, m := range r.mounts {
		if m.path.Equal(path) {
			target = m
			r.mounts = append(r.mounts[:i], r.mounts[i+1:]...)
			break
		}
	}
	if target == nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to unmount %s: %w", path, ErrNotFound)
	}
	r.resort()
	r.mu.Unlock()

	r.cache.Flush(target.path, r.writeBack)
	if !target.overlay.IsZero() {
		r.cache.Flush(target.overlay, r.writeBack)
	}
	if err := target.storage.Close(); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", path, err)
	}
	r.log.Info().Str("path", path.String()).Msg("Storage unmounted")
	return nil
}

// Mounts returns all active mounts in resolution order.
func (r *Root) Mounts() []MountInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]MountInfo, 0, len(r.sorted))
	for _, m := range r.sorted {
		infos = append(infos, MountInfo{
			Path:     m.path,
			ReadOnly: m.readOnly,
			Overlay:  m.overlay,
			Prio:     m.prio,
			Backing:  strings.TrimPrefix(fmt.Sprintf("%T", m.storage), "*"),
		})
	}
	return infos
}

// Meta returns metadata for the object, index or mount point at path.
func (r *Root) Meta(path data.Path) (*Metadata, error) {
	if path.IsZero() {
		return nil, nil
	}
	r.mu.RLock()
	for _, m := range r.sorted {
		if m.path.Equal(path) {
			r.mu.RUnlock()
			return &Metadata{Path: path, Mounted: true}, nil
		}
	}
	r.mu.RUnlock()
	for _, loc := range r.locate(path) {
		meta, err := loc.mount.storage.Meta(loc.sub)
		if err != nil {
			r.log.Warn().Err(err).Str("path", path.String()).Msg("Metadata lookup failed")
			continue
		}
		if meta != nil {
			rebased := *meta
			rebased.Path = path
			return &rebased, nil
		}
	}
	if path.IsIndex() {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, m := range r.sorted {
			if m.path.StartsWith(path) {
				return &Metadata{Path: path, Mounted: true}, nil
			}
		}
	}
	return nil, nil
}

// Load returns the object dictionary at path, or nil when missing.
// Cached objects return their live dictionary, so callers must treat
// the result as read-only.
func (r *Root) Load(path data.Path) (*data.Dict, error) {
	if path.IsZero() || path.IsIndex() {
		return nil, nil
	}
	if obj := r.cache.Get(path); obj != nil {
		obj.Activate(time.Now())
		return obj.Dict(), nil
	}
	return r.loadRaw(path)
}

// LoadObject returns the live object at path, constructing and caching
// it on first use. Missing objects return (nil, nil); construction and
// initializer failures return ErrBadObject.
func (r *Root) LoadObject(path data.Path) (Object, error) {
	if path.IsZero() || path.IsIndex() {
		return nil, fmt.Errorf("failed to load object %s: path is an index", path)
	}
	now := time.Now()
	if obj := r.cache.Get(path); obj != nil {
		obj.Activate(now)
		return obj, nil
	}
	dict, err := r.loadRaw(path)
	if err != nil {
		return nil, err
	}
	if dict == nil {
		return nil, nil
	}
	obj, err := r.construct(path, dict)
	if err != nil {
		r.log.Error().Err(err).Str("path", path.String()).Msg("Object initialization failed")
		return nil, err
	}
	cached := r.cache.Put(path, obj)
	if cached != obj {
		obj.Destroy()
	}
	cached.Activate(now)
	return cached, nil
}

// Store writes an object dictionary to the first writable mount
// covering path and invalidates any cached object there.
func (r *Root) Store(path data.Path, dict *data.Dict) error {
	if path.IsZero() || path.IsIndex() {
		return fmt.Errorf("failed to store %s: path is an index", path)
	}
	if dict == nil {
		return fmt.Errorf("failed to store %s: nil dictionary", path)
	}
	if err := r.writeBack(path, dict); err != nil {
		return err
	}
	r.cache.Remove(path)
	if r.broker != nil {
		r.broker.Emit(events.EventObjectStored, path.String(), "")
	}
	return nil
}

// Remove deletes the object from the first writable mount covering
// path and evicts any cached object there. Shadowed copies in
// read-only mounts remain visible.
func (r *Root) Remove(path data.Path) error {
	if path.IsZero() || path.IsIndex() {
		return fmt.Errorf("failed to remove %s: path is an index", path)
	}
	removed := false
	for _, loc := range r.locate(path) {
		if loc.mount.readOnly {
			continue
		}
		if err := loc.mount.storage.Remove(loc.sub); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed = true
		break
	}
	if !removed {
		return fmt.Errorf("failed to remove %s: %w", path, ErrReadOnly)
	}
	r.cache.Remove(path)
	if r.broker != nil {
		r.broker.Emit(events.EventObjectRemoved, path.String(), "")
	}
	return nil
}

// Query walks all objects visible under path, mount by mount in
// resolution order. Shadowed duplicates are reported once and hidden
// paths are skipped unless the query prefix itself is hidden.
func (r *Root) Query(path data.Path, fn QueryFunc) error {
	seen := make(map[string]bool)
	stop := false
	emit := func(meta Metadata) bool {
		key := meta.Path.String()
		if seen[key] {
			return true
		}
		seen[key] = true
		if meta.Path.Hidden() && !path.Hidden() {
			return true
		}
		if !meta.Path.StartsWith(path) {
			return true
		}
		if !fn(meta) {
			stop = true
			return false
		}
		return true
	}
	for _, m := range r.snapshotMounts() {
		if stop {
			break
		}
		bases := []data.Path{m.path}
		if !m.overlay.IsZero() {
			bases = append(bases, m.overlay)
		}
		for _, base := range bases {
			if stop {
				break
			}
			var sub data.Path
			if s, ok := path.Subpath(base); ok {
				sub = s
			} else if base.StartsWith(path) {
				sub = data.Root
			} else {
				continue
			}
			rebase := base
			err := m.storage.Query(sub, func(meta Metadata) bool {
				meta.Path = rebase.Resolve(meta.Path)
				return emit(meta)
			})
			if err != nil {
				return fmt.Errorf("failed to query %s: %w", path, err)
			}
		}
	}
	return nil
}

// CleanCache passivates all cached objects and evicts inactive ones,
// writing back modified objects first. Called periodically by the
// cache maintenance task.
func (r *Root) CleanCache(now time.Time, force bool) {
	r.cache.Clean(now, force, r.writeBack)
}

// FlushCache writes back and evicts all cached objects under prefix.
func (r *Root) FlushCache(prefix data.Path) error {
	return r.cache.Flush(prefix, r.writeBack)
}

// CacheSize returns the number of live cached objects.
func (r *Root) CacheSize() int {
	return r.cache.Size()
}

// Close force-evicts the cache with write-backs and closes all
// mounted storages in reverse mount order.
func (r *Root) Close() error {
	r.cache.Clean(time.Now(), true, r.writeBack)
	r.mu.Lock()
	mounts := r.mounts
	r.mounts = nil
	r.sorted = nil
	r.mu.Unlock()
	var firstErr error
	for i := len(mounts) - 1; i >= 0; i-- {
		if err := mounts[i].storage.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s: %w", mounts[i].path, err)
		}
	}
	return firstErr
}

// writeBack stores a dictionary through the mount table without
// touching the cache or publishing events. Used for both explicit
// stores and cache eviction write-backs.
func (r *Root) writeBack(path data.Path, dict *data.Dict) error {
	for _, loc := range r.locate(path) {
		if loc.mount.readOnly {
			continue
		}
		if err := loc.mount.storage.Store(loc.sub, dict); err != nil {
			return fmt.Errorf("failed to store %s: %w", path, err)
		}
		return nil
	}
	return fmt.Errorf("failed to store %s: %w", path, ErrReadOnly)
}

// loadRaw resolves path through the mount table, returning the first
// hit. Read errors on higher-priority mounts are logged and skipped so
// a shadowed copy can still serve, but resurface when nothing matches.
func (r *Root) loadRaw(path data.Path) (*data.Dict, error) {
	var firstErr error
	for _, loc := range r.locate(path) {
		dict, err := loc.mount.storage.Load(loc.sub)
		if err != nil {
			r.log.Warn().Err(err).Str("path", path.String()).Msg("Storage read failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if dict != nil {
			return dict, nil
		}
	}
	return nil, firstErr
}

// locate returns all (mount, relative path) candidates for a path in
// resolution order. Each mount is addressable both directly below its
// mount point and through its overlay.
func (r *Root) locate(path data.Path) []located {
	var out []located
	for _, m := range r.snapshotMounts() {
		if sub, ok := path.Subpath(m.path); ok {
			out = append(out, located{mount: m, sub: sub})
		}
		if !m.overlay.IsZero() {
			if sub, ok := path.Subpath(m.overlay); ok {
				out = append(out, located{mount: m, sub: sub})
			}
		}
	}
	return out
}

func (r *Root) snapshotMounts() []*mountPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted
}

// resort rebuilds the resolution order after a mount table change.
// Higher priority first, insertion order breaking ties. Callers hold
// the write lock.
func (r *Root) resort() {
	sorted := make([]*mountPoint, len(r.mounts))
	copy(sorted, r.mounts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].prio != sorted[j].prio {
			return sorted[i].prio > sorted[j].prio
		}
		return sorted[i].order < sorted[j].order
	})
	r.sorted = sorted
}

// construct builds a typed object for the dictionary at path. The type
// is taken from the "type" property, falling back to the first path
// segment. Unknown types produce a plain BaseObject.
func (r *Root) construct(path data.Path, dict *data.Dict) (Object, error) {
	typ := dict.GetString("type", "")
	if typ == "" && path.Depth() > 1 {
		typ = path.Segment(0)
	}
	id := objectID(path)
	ctor := r.resolveConstructor(typ)
	if ctor == nil {
		return NewBaseObject(id, typ, dict), nil
	}
	obj, err := ctor(id, typ, dict)
	if err != nil {
		return nil, fmt.Errorf("%w: construct %s: %v", ErrBadObject, path, err)
	}
	if err := obj.Init(); err != nil {
		obj.Destroy()
		return nil, fmt.Errorf("%w: init %s: %v", ErrBadObject, path, err)
	}
	return obj, nil
}

// objectID returns the object id for a storage path: the full subpath
// below the type index, so nested objects keep their qualified name.
func objectID(path data.Path) string {
	if path.Depth() <= 2 {
		return path.Name()
	}
	parts := make([]string, 0, path.Depth()-1)
	for i := 1; i < path.Depth(); i++ {
		parts = append(parts, path.Segment(i))
	}
	return strings.Join(parts, "/")
}

// resolveConstructor finds the registered constructor for a type id.
// Resolution tries the exact type descriptor, then slash-separated
// parent types, then an alias scan over all descriptors.
func (r *Root) resolveConstructor(typ string) Constructor {
	if typ == "" {
		return nil
	}
	for id := typ; id != ""; id = parentType(id) {
		desc, err := r.loadRaw(TypePath.Resolve(data.NewPath(id)))
		if err != nil || desc == nil {
			continue
		}
		if symbol := desc.GetString("initializer", ""); symbol != "" {
			return r.registry.Lookup(symbol)
		}
		return nil
	}
	var ctor Constructor
	r.Query(TypePath, func(meta Metadata) bool {
		desc, err := r.loadRaw(meta.Path)
		if err != nil || desc == nil {
			return true
		}
		for _, alias := range desc.GetStrings("alias") {
			if alias == typ {
				if symbol := desc.GetString("initializer", ""); symbol != "" {
					ctor = r.registry.Lookup(symbol)
				}
				return false
			}
		}
		return true
	})
	return ctor
}

func parentType(typ string) string {
	if pos := strings.LastIndex(typ, "/"); pos > 0 {
		return typ[:pos]
	}
	return ""
}
