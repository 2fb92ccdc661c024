package data

import "strings"

// Path identifies an object or an index in storage. Paths are absolute,
// slash-separated and immutable. Index paths (directories) carry a trailing
// slash in their string form, object paths do not.
type Path struct {
	parts []string
	index bool
}

// Root is the top-level index path "/".
var Root = Path{index: true}

// NewPath parses a path string. Empty segments are dropped, a trailing
// slash (or an empty string) marks an index path.
func NewPath(s string) Path {
	index := s == "" || strings.HasSuffix(s, "/")
	var parts []string
	for _, part := range strings.Split(s, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return Root
	}
	return Path{parts: parts, index: index}
}

// newPath creates a path from a copied segment slice.
func newPath(parts []string, index bool) Path {
	if len(parts) == 0 {
		return Root
	}
	cp := make([]string, len(parts))
	copy(cp, parts)
	return Path{parts: cp, index: index}
}

// String returns the absolute path string. Index paths end with a slash.
// The zero Path returns an empty string.
func (p Path) String() string {
	if p.IsZero() {
		return ""
	}
	if len(p.parts) == 0 {
		return "/"
	}
	s := "/" + strings.Join(p.parts, "/")
	if p.index {
		s += "/"
	}
	return s
}

// IsZero reports whether this is the zero (unset) path.
func (p Path) IsZero() bool {
	return len(p.parts) == 0 && !p.index
}

// IsRoot reports whether this is the root index path.
func (p Path) IsRoot() bool {
	return len(p.parts) == 0 && p.index
}

// IsIndex reports whether this path identifies an index (directory).
func (p Path) IsIndex() bool {
	return p.index
}

// Name returns the last path segment, or an empty string for the root.
func (p Path) Name() string {
	if len(p.parts) == 0 {
		return ""
	}
	return p.parts[len(p.parts)-1]
}

// Depth returns the number of path segments.
func (p Path) Depth() int {
	return len(p.parts)
}

// Segment returns the path segment at pos, or an empty string if out of range.
func (p Path) Segment(pos int) string {
	if pos < 0 || pos >= len(p.parts) {
		return ""
	}
	return p.parts[pos]
}

// Equal reports whether two paths are identical. Comparison is case-sensitive.
func (p Path) Equal(o Path) bool {
	if p.index != o.index || len(p.parts) != len(o.parts) {
		return false
	}
	for i := range p.parts {
		if p.parts[i] != o.parts[i] {
			return false
		}
	}
	return true
}

// Parent returns the closest parent index path. The root is its own parent.
func (p Path) Parent() Path {
	if len(p.parts) == 0 {
		return Root
	}
	return newPath(p.parts[:len(p.parts)-1], true)
}

// Child returns a new path with name appended. The index flag marks the
// child as an index path.
func (p Path) Child(name string, index bool) Path {
	parts := make([]string, len(p.parts)+1)
	copy(parts, p.parts)
	parts[len(p.parts)] = name
	return Path{parts: parts, index: index}
}

// Sibling returns a path with the same parent and index flag but another name.
func (p Path) Sibling(name string) Path {
	return p.Parent().Child(name, p.index)
}

// Resolve joins a relative path onto this index path. Resolving against an
// object path replaces its last segment.
func (p Path) Resolve(rel Path) Path {
	if rel.IsZero() || rel.IsRoot() {
		return p
	}
	base := p.parts
	if !p.index && len(base) > 0 {
		base = base[:len(base)-1]
	}
	parts := make([]string, 0, len(base)+len(rel.parts))
	parts = append(parts, base...)
	parts = append(parts, rel.parts...)
	return Path{parts: parts, index: rel.index}
}

// StartsWith reports whether this path equals the prefix or descends from it.
// Only index paths can have descendants.
func (p Path) StartsWith(prefix Path) bool {
	if prefix.IsZero() {
		return false
	}
	if len(prefix.parts) > len(p.parts) {
		return false
	}
	for i := range prefix.parts {
		if p.parts[i] != prefix.parts[i] {
			return false
		}
	}
	if len(prefix.parts) == len(p.parts) {
		return prefix.index == p.index || prefix.index
	}
	return prefix.index
}

// Subpath returns the remainder of this path below the given index prefix.
// The second return value is false when the prefix does not cover this path.
func (p Path) Subpath(prefix Path) (Path, bool) {
	if !p.StartsWith(prefix) {
		return Path{}, false
	}
	rest := p.parts[len(prefix.parts):]
	if len(rest) == 0 {
		return Root, true
	}
	return newPath(rest, p.index), true
}

// Hidden reports whether any segment starts with a dot, marking the path as
// excluded from default queries.
func (p Path) Hidden() bool {
	for _, part := range p.parts {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
