/*
Package pool manages bounded channel pools for external connections.

A connection is a stored configuration object owning one pool. The
pool leases channels — single conversations with the external system —
to procedure calls, bounded by a weighted semaphore, and keeps
returned channels idle for reuse.

# Lifecycle

	Reserve(ctx)                       Return(ch, callErr)
	     │                                   │
	┌────▼──────────┐   validate    ┌────────▼───────────┐
	│ acquire permit│──────────────▶│ rollback on error  │
	│ (MaxWait 5s)  │               │ validate on return │
	└────┬──────────┘               └────────┬───────────┘
	     │ idle miss                         │ valid+poolable
	┌────▼──────────┐               ┌────────▼───────────┐
	│ driver creates│               │ back to idle FIFO  │
	│ new channel   │               │ else destroyed     │
	└───────────────┘               └────────────────────┘

Borrowers that cannot get a permit within five seconds receive
ErrPoolExhausted; a cancelled context surfaces its own error instead.
Idle channels are validated again before handout and evicted by the
cache maintenance sweep once they outlive the idle window.

# Drivers

The Driver interface creates and destroys channels for one connection
type. Drivers register by type id; lookup walks the type hierarchy
(connection/sql/postgres falls back to connection/sql), so a generic
driver can serve a family of connection types. Concrete protocol
drivers live outside the kernel.

# Error accounting

Channels report call outcomes through BaseChannel.Report; three
consecutive failures invalidate the channel, so a dead backend
conversation is discarded instead of circulating through the pool.

# Secrets

Connection configuration passes through the vault registry before
use, expanding ${{key}} references, so credentials never sit in the
storage tree in the clear.
*/
package pool
