package storage

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hutchhq/hutch/pkg/data"
)

var boltObjectsBucket = []byte("objects")

// BoltStorage persists objects in a single bbolt database file. It
// backs durable server-local data such as the stored metrics
// aggregates, where one file beats a directory tree of small objects.
type BoltStorage struct {
	db       *bolt.DB
	file     string
	readOnly bool
}

// NewBoltStorage opens or creates a bbolt-backed storage at the given
// file.
func NewBoltStorage(file string, readOnly bool) (*BoltStorage, error) {
	db, err := bolt.Open(file, 0o600, &bolt.Options{
		Timeout:  1 * time.Second,
		ReadOnly: readOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open database %s: %v", ErrIO, file, err)
	}
	if !readOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(boltObjectsBucket)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: init database %s: %v", ErrIO, file, err)
		}
	}
	return &BoltStorage{db: db, file: file, readOnly: readOnly}, nil
}

// Meta returns metadata for the object or index at path.
func (s *BoltStorage) Meta(path data.Path) (*Metadata, error) {
	var meta *Metadata
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltObjectsBucket)
		if bucket == nil {
			return nil
		}
		if path.IsIndex() {
			cursor := bucket.Cursor()
			prefix := []byte(boltKey(path))
			if key, _ := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix) {
				meta = &Metadata{Path: path}
			}
			return nil
		}
		if value := bucket.Get([]byte(boltKey(path))); value != nil {
			meta = &Metadata{Path: path, Size: int64(len(value))}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read database %s: %v", ErrIO, s.file, err)
	}
	return meta, nil
}

// Load reads and parses the object at path, or nil when missing.
func (s *BoltStorage) Load(path data.Path) (*data.Dict, error) {
	if path.IsIndex() {
		return nil, nil
	}
	var dict *data.Dict
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltObjectsBucket)
		if bucket == nil {
			return nil
		}
		value := bucket.Get([]byte(boltKey(path)))
		if value == nil {
			return nil
		}
		parsed, err := data.Unmarshal(value)
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrBadObject, path, err)
		}
		dict = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dict, nil
}

// Store writes the serialized dictionary at path.
func (s *BoltStorage) Store(path data.Path, dict *data.Dict) error {
	if s.readOnly {
		return fmt.Errorf("failed to store %s: %w", path, ErrReadOnly)
	}
	if path.IsIndex() {
		return fmt.Errorf("failed to store %s: path is an index", path)
	}
	raw, err := data.Marshal(dict)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", path, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltObjectsBucket).Put([]byte(boltKey(path)), raw)
	})
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, path, err)
	}
	return nil
}

// Remove deletes the object at path. Missing objects are ignored.
func (s *BoltStorage) Remove(path data.Path) error {
	if s.readOnly {
		return fmt.Errorf("failed to remove %s: %w", path, ErrReadOnly)
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltObjectsBucket).Delete([]byte(boltKey(path)))
	})
	if err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrIO, path, err)
	}
	return nil
}

// Query walks stored objects under the index path in key order.
func (s *BoltStorage) Query(path data.Path, fn QueryFunc) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltObjectsBucket)
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		prefix := []byte(boltKey(path))
		for key, value := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, value = cursor.Next() {
			meta := Metadata{
				Path: data.NewPath(string(key)),
				Size: int64(len(value)),
			}
			if !fn(meta) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: read database %s: %v", ErrIO, s.file, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// boltKey maps a storage path to a database key. Index paths keep the
// trailing slash so they work as cursor prefixes.
func boltKey(path data.Path) string {
	if path.IsRoot() {
		return ""
	}
	return strings.TrimPrefix(path.String(), "/")
}
