package storage

import (
	"archive/zip"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hutchhq/hutch/pkg/data"
)

// ZipStorage reads objects from a zip archive, typically a packaged
// plugin bundle that has not been unpacked. It is always read-only.
type ZipStorage struct {
	zipFile string
	reader  *zip.ReadCloser
	entries map[string]*zip.File
	paths   []string
}

// NewZipStorage opens a zip archive as a storage. Only .json entries
// are visible as objects; other archive content is ignored.
func NewZipStorage(zipFile string) (*ZipStorage, error) {
	reader, err := zip.OpenReader(zipFile)
	if err != nil {
		return nil, fmt.Errorf("%w: open zip %s: %v", ErrIO, zipFile, err)
	}
	s := &ZipStorage{
		zipFile: zipFile,
		reader:  reader,
		entries: make(map[string]*zip.File),
	}
	for _, entry := range reader.File {
		name := strings.TrimPrefix(entry.Name, "/")
		if strings.HasSuffix(name, "/") || !strings.HasSuffix(name, dirFileExt) {
			continue
		}
		path := data.NewPath(strings.TrimSuffix(name, dirFileExt))
		if path.IsZero() || path.IsIndex() {
			continue
		}
		s.entries[path.String()] = entry
		s.paths = append(s.paths, path.String())
	}
	sort.Strings(s.paths)
	return s, nil
}

// Meta returns archive metadata for the object or index at path.
func (s *ZipStorage) Meta(path data.Path) (*Metadata, error) {
	if path.IsIndex() {
		prefix := path.String()
		for _, key := range s.paths {
			if path.IsRoot() || strings.HasPrefix(key, prefix) {
				return &Metadata{Path: path}, nil
			}
		}
		return nil, nil
	}
	entry, ok := s.entries[path.String()]
	if !ok {
		return nil, nil
	}
	return &Metadata{
		Path:         path,
		LastModified: entry.Modified,
		Size:         int64(entry.UncompressedSize64),
	}, nil
}

// Load reads and parses the archive entry at path, or nil when
// missing.
func (s *ZipStorage) Load(path data.Path) (*data.Dict, error) {
	entry, ok := s.entries[path.String()]
	if !ok {
		return nil, nil
	}
	file, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s in %s: %v", ErrIO, path, s.zipFile, err)
	}
	defer file.Close()
	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s in %s: %v", ErrIO, path, s.zipFile, err)
	}
	dict, err := data.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrBadObject, path, err)
	}
	return dict, nil
}

// Store always fails, zip archives are read-only.
func (s *ZipStorage) Store(path data.Path, d *data.Dict) error {
	return fmt.Errorf("failed to store %s: %w", path, ErrReadOnly)
}

// Remove always fails, zip archives are read-only.
func (s *ZipStorage) Remove(path data.Path) error {
	return fmt.Errorf("failed to remove %s: %w", path, ErrReadOnly)
}

// Query walks archive objects under the index path in path order.
func (s *ZipStorage) Query(path data.Path, fn QueryFunc) error {
	for _, key := range s.paths {
		entry := s.entries[key]
		objPath := data.NewPath(key)
		if !objPath.StartsWith(path) {
			continue
		}
		meta := Metadata{
			Path:         objPath,
			LastModified: entry.Modified,
			Size:         int64(entry.UncompressedSize64),
		}
		if !fn(meta) {
			return nil
		}
	}
	return nil
}

// Close closes the underlying archive reader.
func (s *ZipStorage) Close() error {
	return s.reader.Close()
}
