package storage

import (
	"sync"
	"time"

	"github.com/hutchhq/hutch/pkg/data"
)

// ObjectActiveWindow is the default duration an object remains active in
// the cache after its last use. Inactive objects are passivated, written
// back if modified, and evicted on the next cache sweep.
const ObjectActiveWindow = 5 * time.Minute

// Object is a live, typed instance backed by a stored dictionary. The
// cache constructs objects on load via a registered initializer, keeps
// them while active and tears them down via Destroy on eviction.
type Object interface {
	// ID returns the object identifier (the last path segment).
	ID() string

	// Type returns the declared object type.
	Type() string

	// Dict returns the live backing dictionary. Callers must treat
	// the returned dictionary as read-only.
	Dict() *data.Dict

	// Init prepares the object after construction. An error aborts
	// the load and the object is discarded.
	Init() error

	// Destroy releases any resources held by the object. Called once
	// on cache eviction, after a final write-back if modified.
	Destroy()

	// Activate marks the object as used at the given time.
	Activate(now time.Time)

	// Passivate lets the object release transient state. Called on
	// every cache sweep, for active and inactive objects alike.
	Passivate()

	// IsActive reports whether the object should stay cached.
	IsActive(now time.Time) bool

	// IsModified reports whether the in-memory state differs from
	// the stored dictionary and needs a write-back.
	IsModified() bool
}

// BaseObject is the default Object implementation and the embeddable
// base for typed objects. It keeps an activation timestamp, a modified
// flag and the backing dictionary.
type BaseObject struct {
	mu        sync.Mutex
	id        string
	typ       string
	dict      *data.Dict
	activated time.Time
	window    time.Duration
	modified  bool
}

// NewBaseObject creates an object over the given dictionary. A nil
// dictionary is replaced with an empty one.
func NewBaseObject(id, typ string, d *data.Dict) *BaseObject {
	if d == nil {
		d = data.NewDict()
	}
	return &BaseObject{
		id:     id,
		typ:    typ,
		dict:   d,
		window: ObjectActiveWindow,
	}
}

// ID returns the object identifier.
func (o *BaseObject) ID() string {
	return o.id
}

// Type returns the declared object type.
func (o *BaseObject) Type() string {
	return o.typ
}

// Dict returns the live backing dictionary.
func (o *BaseObject) Dict() *data.Dict {
	return o.dict
}

// Init prepares the object. The base implementation does nothing.
func (o *BaseObject) Init() error {
	return nil
}

// Destroy releases resources. The base implementation does nothing.
func (o *BaseObject) Destroy() {}

// Activate marks the object as used at the given time.
func (o *BaseObject) Activate(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activated = now
}

// Passivate releases transient state. The base implementation does
// nothing.
func (o *BaseObject) Passivate() {}

// IsActive reports whether the object was used within its active
// window.
func (o *BaseObject) IsActive(now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return now.Before(o.activated.Add(o.window))
}

// IsModified reports whether the object needs a write-back.
func (o *BaseObject) IsModified() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.modified
}

// MarkModified flags the object for write-back on the next sweep.
func (o *BaseObject) MarkModified() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.modified = true
}

// ClearModified resets the modified flag after a write-back.
func (o *BaseObject) ClearModified() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.modified = false
}

// SetActiveWindow overrides the default cache retention window. Typed
// objects call this from Init.
func (o *BaseObject) SetActiveWindow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.window = d
}
