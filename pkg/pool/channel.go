package pool

import (
	"context"
	"sync"
)

// maxChannelErrors is the number of consecutive failures after which a
// channel is marked invalid and dropped from the pool.
const maxChannelErrors = 3

// Channel is a single leased communication slot against an external
// system. Concrete connection drivers provide the implementation;
// BaseChannel supplies the bookkeeping.
type Channel interface {
	// Connection returns the owning connection object.
	Connection() *Connection

	// IsPoolable reports whether the channel may be kept idle and
	// handed out again after release.
	IsPoolable() bool

	// IsShared reports whether nested calls within one call context
	// may reuse this channel while it is reserved.
	IsShared() bool

	// IsValid reports whether the channel is still usable.
	IsValid() bool

	// Reserve prepares the channel for exclusive use by one caller.
	Reserve(ctx context.Context) error

	// Release returns the channel from its reservation.
	Release()

	// Validate probes the underlying resource, marking the channel
	// invalid on failure.
	Validate() error

	// Commit finishes the current unit of work successfully.
	Commit() error

	// Rollback abandons the current unit of work.
	Rollback() error
}

// Driver creates and destroys channels for one family of connection
// types. Drivers are registered per connection type prefix; the
// kernel itself ships none.
type Driver interface {
	CreateChannel(ctx context.Context, c *Connection) (Channel, error)
	DestroyChannel(ch Channel)
}

// Drivers maps connection type identifiers to channel drivers.
// Lookup walks slash-separated parent types so a driver registered
// for "connection/sql" serves "connection/sql/postgres" too.
type Drivers struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewDrivers creates an empty driver table.
func NewDrivers() *Drivers {
	return &Drivers{drivers: make(map[string]Driver)}
}

// Register binds a driver to a connection type id.
func (d *Drivers) Register(typ string, driver Driver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drivers[typ] = driver
}

// Lookup returns the driver for a connection type, trying parent
// types, or nil when none is registered.
func (d *Drivers) Lookup(typ string) Driver {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for id := typ; id != ""; id = parentType(id) {
		if driver, ok := d.drivers[id]; ok {
			return driver
		}
	}
	return nil
}

func parentType(typ string) string {
	for i := len(typ) - 1; i > 0; i-- {
		if typ[i] == '/' {
			return typ[:i]
		}
	}
	return ""
}

// BaseChannel carries the per-channel bookkeeping shared by all
// drivers: validity, error accounting and the back reference to the
// owning connection. The reference is a pure lookup; the pool owns
// the channel.
type BaseChannel struct {
	mu       sync.Mutex
	conn     *Connection
	poolable bool
	shared   bool
	invalid  bool
	errors   int
}

// NewBaseChannel creates the bookkeeping base for a driver channel.
func NewBaseChannel(conn *Connection, poolable, shared bool) *BaseChannel {
	return &BaseChannel{conn: conn, poolable: poolable, shared: shared}
}

// Connection returns the owning connection.
func (b *BaseChannel) Connection() *Connection {
	return b.conn
}

// IsPoolable reports whether the channel may idle in the pool.
func (b *BaseChannel) IsPoolable() bool {
	return b.poolable
}

// IsShared reports whether one call may reuse the channel for nested
// reservations.
func (b *BaseChannel) IsShared() bool {
	return b.shared
}

// IsValid reports whether the channel is still usable.
func (b *BaseChannel) IsValid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.invalid
}

// Invalidate permanently marks the channel unusable.
func (b *BaseChannel) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invalid = true
}

// Report records the outcome of one channel operation. Three
// consecutive failures invalidate the channel; any success resets the
// counter.
func (b *BaseChannel) Report(success bool, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.errors = 0
		return
	}
	b.errors++
	if b.errors >= maxChannelErrors {
		b.invalid = true
	}
}

// Reserve prepares the channel for use. The base implementation only
// checks validity.
func (b *BaseChannel) Reserve(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.IsValid() {
		return ErrChannelInvalid
	}
	return nil
}

// Release returns the channel from its reservation. The base
// implementation does nothing.
func (b *BaseChannel) Release() {}

// Validate probes the channel. The base implementation only checks
// the validity flag.
func (b *BaseChannel) Validate() error {
	if !b.IsValid() {
		return ErrChannelInvalid
	}
	return nil
}

// Commit finishes the current unit of work. No-op by default.
func (b *BaseChannel) Commit() error {
	return nil
}

// Rollback abandons the current unit of work. No-op by default.
func (b *BaseChannel) Rollback() error {
	return nil
}
