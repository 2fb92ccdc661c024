package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/hutchhq/hutch/pkg/data"
	"github.com/hutchhq/hutch/pkg/metrics"
	"github.com/hutchhq/hutch/pkg/storage"
	"github.com/hutchhq/hutch/pkg/vault"
)

// ConnectionType is the storage type prefix for connection configs.
const ConnectionType = "connection"

// ConnectionInitializer is the registry symbol constructing
// connection objects.
const ConnectionInitializer = "pool/connection"

// ConnectionPath is the storage index holding connection configs.
var ConnectionPath = data.NewPath("/connection/")

// Pool sizing defaults.
const (
	DefaultMaxOpen = 4
	DefaultMaxIdle = 600 * time.Second
)

// connectionActiveWindow keeps a connection cached for a minute after
// its last reservation even when no channels are open.
const connectionActiveWindow = 60 * time.Second

// Env bundles the shared collaborators connection objects need at
// construction time: the driver table, the vault registry for secret
// expansion and the call metrics registry.
type Env struct {
	Drivers *Drivers
	Vaults  *vault.Registry
	Metrics *metrics.Registry
}

// RegisterTypes adds the connection object constructor to a storage
// registry.
func RegisterTypes(reg *storage.Registry, env *Env) {
	reg.Register(ConnectionInitializer, NewConnectionObject(env))
}

// Connection is a stored external-connection config that owns a
// bounded channel pool. The pool is created on Init and torn down on
// Destroy; Passivate drives idle-channel eviction on every cache
// sweep.
type Connection struct {
	*storage.BaseObject
	env  *Env
	pool *Pool

	mu       sync.Mutex
	lastUsed time.Time
	config   *data.Dict
}

// NewConnectionObject returns the storage constructor for connection
// objects bound to the given environment.
func NewConnectionObject(env *Env) storage.Constructor {
	return func(id, typ string, d *data.Dict) (storage.Object, error) {
		return &Connection{BaseObject: storage.NewBaseObject(id, typ, d), env: env}, nil
	}
}

// Init resolves the channel driver and creates the pool.
func (c *Connection) Init() error {
	if c.MaxOpen() < 1 {
		return fmt.Errorf("connection %s: maxOpen must be at least 1", c.ID())
	}
	if c.Dict().GetInt("maxIdleSecs", 0) < 0 {
		return fmt.Errorf("connection %s: maxIdleSecs must not be negative", c.ID())
	}
	driver := c.env.Drivers.Lookup(c.Type())
	if driver == nil {
		return fmt.Errorf("connection %s: no driver for type %s", c.ID(), c.Type())
	}
	c.pool = NewPool(c, driver)
	return nil
}

// Destroy closes the channel pool.
func (c *Connection) Destroy() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// Passivate evicts idle channels past the connection idle limit.
func (c *Connection) Passivate() {
	if c.pool != nil {
		c.pool.Evict(time.Now())
	}
}

// IsActive reports whether the connection must stay cached: within a
// minute of the last reservation, or while any channel is open.
func (c *Connection) IsActive(now time.Time) bool {
	c.mu.Lock()
	lastUsed := c.lastUsed
	c.mu.Unlock()
	if now.Sub(lastUsed) <= connectionActiveWindow {
		return true
	}
	return c.pool != nil && c.pool.Open() > 0
}

// Pool returns the connection's channel pool.
func (c *Connection) Pool() *Pool {
	return c.pool
}

// MaxOpen returns the channel capacity.
func (c *Connection) MaxOpen() int {
	return c.Dict().GetInt("maxOpen", DefaultMaxOpen)
}

// MaxIdle returns how long a channel may idle before eviction.
func (c *Connection) MaxIdle() time.Duration {
	secs := c.Dict().GetInt("maxIdleSecs", -1)
	if secs < 0 {
		return DefaultMaxIdle
	}
	return time.Duration(secs) * time.Second
}

// Config returns the connection dictionary with vault references in
// string values expanded. Drivers read credentials from here so
// plaintext secrets never live in storage. The expansion is computed
// once per loaded object.
func (c *Connection) Config() *data.Dict {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config == nil {
		if c.env != nil && c.env.Vaults != nil {
			c.config = c.env.Vaults.ExpandDict(c.Dict())
		} else {
			c.config = c.Dict()
		}
	}
	return c.config
}

// recordUse stamps the activity clock and records the reservation in
// the call metrics registry.
func (c *Connection) recordUse(start time.Time, err error) {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
	if c.env != nil && c.env.Metrics != nil {
		c.env.Metrics.Record(metrics.CategoryConnection, c.ID(), start, err)
	}
}
