package storage

import (
	"time"

	"github.com/hutchhq/hutch/pkg/data"
)

// Metadata describes a stored object without loading its full data.
type Metadata struct {
	// Path is the object location, relative to the storage root.
	Path data.Path

	// Type is the declared object type, when cheaply known. Query
	// results from file and database backings leave it empty.
	Type string

	// Mounted reports whether the path belongs to a mounted storage
	// rather than a plain object.
	Mounted bool

	// LastModified is the storage modification time. Zero when the
	// backing does not track one.
	LastModified time.Time

	// Size is the serialized object size in bytes, when known.
	Size int64
}

// QueryFunc receives one result per stored object during a Query walk.
// Returning false stops the walk.
type QueryFunc func(meta Metadata) bool

// Storage is a single backing store for dictionary objects addressed by
// path. Implementations must be safe for concurrent use.
//
// Lookups for missing objects return (nil, nil); errors are reserved
// for backing failures and malformed data. Paths are always relative
// to the storage root, so a mounted storage never sees its mount
// point.
type Storage interface {
	// Meta returns metadata for the object or index at path, or nil
	// when nothing exists there.
	Meta(path data.Path) (*Metadata, error)

	// Load reads the object dictionary at path, or nil when missing.
	Load(path data.Path) (*data.Dict, error)

	// Store writes the object dictionary at path, replacing any
	// previous data. The path must be an object path.
	Store(path data.Path, d *data.Dict) error

	// Remove deletes the object at path. Removing a missing object
	// is not an error.
	Remove(path data.Path) error

	// Query walks all objects under the given index path in
	// lexicographic path order, invoking fn for each until it
	// returns false.
	Query(path data.Path, fn QueryFunc) error

	// Close releases the backing resources. The storage must not be
	// used afterwards.
	Close() error
}
