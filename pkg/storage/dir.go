package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hutchhq/hutch/pkg/data"
)

const dirFileExt = ".json"

// DirStorage persists objects as JSON files under a base directory.
// Each object path maps to one file with a .json extension and each
// index to a directory, so the layout stays inspectable and editable
// with ordinary tools.
type DirStorage struct {
	baseDir  string
	readOnly bool
}

// NewDirStorage opens a directory-backed storage rooted at baseDir.
// The directory is created unless the storage is read-only.
func NewDirStorage(baseDir string, readOnly bool) (*DirStorage, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage dir %s: %w", baseDir, err)
	}
	if !readOnly {
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir %s: %w", abs, err)
		}
	}
	return &DirStorage{baseDir: abs, readOnly: readOnly}, nil
}

// Dir returns the absolute base directory.
func (d *DirStorage) Dir() string {
	return d.baseDir
}

// Meta returns file metadata for the object or index at path.
func (d *DirStorage) Meta(path data.Path) (*Metadata, error) {
	info, err := os.Stat(d.filename(path))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}
	if path.IsIndex() != info.IsDir() {
		return nil, nil
	}
	meta := &Metadata{Path: path, LastModified: info.ModTime()}
	if !info.IsDir() {
		meta.Size = info.Size()
	}
	return meta, nil
}

// Load reads and parses the JSON file at path, or nil when missing.
func (d *DirStorage) Load(path data.Path) (*data.Dict, error) {
	if path.IsIndex() {
		return nil, nil
	}
	raw, err := os.ReadFile(d.filename(path))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, path, err)
	}
	dict, err := data.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrBadObject, path, err)
	}
	return dict, nil
}

// Store writes the dictionary as a JSON file, creating parent
// directories as needed. The file is written to a temporary name and
// renamed into place so readers never observe partial content.
func (d *DirStorage) Store(path data.Path, dict *data.Dict) error {
	if d.readOnly {
		return fmt.Errorf("failed to store %s: %w", path, ErrReadOnly)
	}
	if path.IsIndex() {
		return fmt.Errorf("failed to store %s: path is an index", path)
	}
	raw, err := data.MarshalIndent(dict)
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", path, err)
	}
	file := d.filename(path)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", ErrIO, path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(file), "."+path.Name()+"-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: temp file for %s: %v", ErrIO, path, err)
	}
	_, werr := tmp.Write(raw)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: write %s: %v", ErrIO, path, firstErr(werr, cerr))
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: rename %s: %v", ErrIO, path, err)
	}
	return nil
}

// Remove deletes the object file and prunes empty parent directories.
func (d *DirStorage) Remove(path data.Path) error {
	if d.readOnly {
		return fmt.Errorf("failed to remove %s: %w", path, ErrReadOnly)
	}
	err := os.Remove(d.filename(path))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: remove %s: %v", ErrIO, path, err)
	}
	dir := filepath.Dir(d.filename(path))
	for dir != d.baseDir && strings.HasPrefix(dir, d.baseDir) {
		if os.Remove(dir) != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// Query walks all JSON files under the index path in path order.
func (d *DirStorage) Query(path data.Path, fn QueryFunc) error {
	root := d.filename(path.Parent())
	if path.IsIndex() {
		root = d.filename(path)
	}
	var metas []Metadata
	err := filepath.WalkDir(root, func(file string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(file, dirFileExt) {
			return nil
		}
		objPath, ok := d.storagePath(file)
		if !ok || !objPath.StartsWith(path) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		metas = append(metas, Metadata{
			Path:         objPath,
			LastModified: info.ModTime(),
			Size:         info.Size(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: walk %s: %v", ErrIO, path, err)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].Path.String() < metas[j].Path.String()
	})
	for _, meta := range metas {
		if !fn(meta) {
			return nil
		}
	}
	return nil
}

// Close releases the storage. Directory storages hold no open handles.
func (d *DirStorage) Close() error {
	return nil
}

func (d *DirStorage) filename(path data.Path) string {
	if path.IsRoot() {
		return d.baseDir
	}
	parts := make([]string, 0, path.Depth()+1)
	parts = append(parts, d.baseDir)
	for i := 0; i < path.Depth(); i++ {
		parts = append(parts, path.Segment(i))
	}
	file := filepath.Join(parts...)
	if !path.IsIndex() {
		file += dirFileExt
	}
	return file
}

func (d *DirStorage) storagePath(file string) (data.Path, bool) {
	rel, err := filepath.Rel(d.baseDir, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return data.Path{}, false
	}
	rel = strings.TrimSuffix(filepath.ToSlash(rel), dirFileExt)
	return data.NewPath(rel), true
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
