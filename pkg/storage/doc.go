/*
Package storage implements the layered object store at the heart of
the server kernel.

Every piece of configuration and state is a dictionary object
addressed by a path. Objects live in mounted backing stores; mounts
can overlay the root path, so several layers contribute to one
logical tree and higher-priority layers shadow lower ones. A type
registry turns raw dictionaries into live typed objects, and an
object cache keeps active objects hot with periodic write-back.

# Architecture

	┌───────────────────── STORAGE TREE ────────────────────────┐
	│                                                           │
	│  Root.Load("/user/admin")                                 │
	│        │                                                  │
	│  ┌─────▼──────────────────────────────┐                   │
	│  │           Object Cache             │                   │
	│  │  - TTL-based activity window       │                   │
	│  │  - dirty objects written back      │                   │
	│  └─────┬──────────────────────────────┘                   │
	│        │ miss                                             │
	│  ┌─────▼──────────────────────────────┐                   │
	│  │          Mount Table               │                   │
	│  │  priority desc, insertion order    │                   │
	│  │                                    │                   │
	│  │  /storage/local/   ─ overlay / ────┼── DirStorage (rw) │
	│  │  /storage/plugin/x ─ overlay / ────┼── ZipStorage (ro) │
	│  │  /storage/plugin/system ─ overlay /┼── DirStorage (ro) │
	│  │  /.metrics/  ──────────────────────┼── BoltStorage     │
	│  └─────┬──────────────────────────────┘                   │
	│        │                                                  │
	│  ┌─────▼──────────────────────────────┐                   │
	│  │         Type Registry              │                   │
	│  │  /type/<id> → initializer symbol   │                   │
	│  │  symbol → Constructor              │                   │
	│  └────────────────────────────────────┘                   │
	│                                                           │
	└───────────────────────────────────────────────────────────┘

# Backings

Four Storage implementations ship with the kernel:

  - MemoryStorage: map-backed, for ephemeral state and tests
  - DirStorage: one JSON file per object under a base directory
  - ZipStorage: read-only tree inside a zip bundle (plug-ins)
  - BoltStorage: bbolt-backed bucket store (metrics series)

All are safe for concurrent use and treat missing objects as
(nil, nil), reserving errors for backing failures.

# Resolution

A read walks the mount table in priority order and returns the first
object found; an index query merges the children visible in every
layer. Writes go to the first writable mount covering the path;
read-only layers reject them with ErrReadOnly. A plug-in can thus
shadow a system object simply by carrying an object at the same path
in a higher-priority layer.

# Objects

LoadObject constructs a typed Object through the registry: the
object's "type" property names a /type/<T> descriptor whose
initializer symbol maps to a registered Constructor. BaseObject
provides the Dict accessor, the modification flag driving write-back
and the activity window driving cache eviction. Init/Destroy and
Activate/Passivate bracket the object lifecycle.

# Usage

	root := storage.NewRoot(broker)
	root.Mount(local, data.NewPath("/storage/local/"))
	root.Remount(data.NewPath("/storage/local/"), false, data.Root, 1000)

	obj, err := root.LoadObject(data.NewPath("/connection/db"))

CleanCache runs on the maintenance schedule; Close flushes and
unmounts everything in reverse mount order.
*/
package storage
