// Package data provides the kernel's primitive value model: ordered
// dictionaries and lists, storage paths and the JSON codec, with
// hidden-key and sealing semantics shared by every subsystem.
package data

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrSealed is returned when modifying a sealed dict or list.
var ErrSealed = errors.New("sealed from modification")

// Key prefixes with reserved meaning.
const (
	// ComputedPrefix marks keys that are derived at runtime and never
	// serialized.
	ComputedPrefix = "_"

	// HiddenPrefix marks keys that are persisted but omitted from data
	// serialized for external clients.
	HiddenPrefix = "."
)

// Dict is an ordered string-keyed map of values. Supported value types are
// nil, bool, int64, float64, string, time.Time, []byte, Path, *Dict and
// *List. Integers are normalized to int64 on insert. Other values are
// stored as-is and treated as opaque.
type Dict struct {
	keys   []string
	values map[string]any
	sealed bool
}

// NewDict creates an empty dict.
func NewDict() *Dict {
	return &Dict{values: make(map[string]any)}
}

// Len returns the number of keys.
func (d *Dict) Len() int {
	return len(d.keys)
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	cp := make([]string, len(d.keys))
	copy(cp, d.keys)
	return cp
}

// Has reports whether the key is present.
func (d *Dict) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Get returns the raw value for key, or nil if absent.
func (d *Dict) Get(key string) any {
	return d.values[key]
}

// Set stores a value under key, keeping first-insertion order. Integer
// values are normalized to int64, float32 to float64.
func (d *Dict) Set(key string, value any) error {
	if d.sealed {
		return ErrSealed
	}
	if key == "" {
		return fmt.Errorf("dict key cannot be empty")
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = normalize(value)
	return nil
}

// SetAll copies all entries from src into this dict.
func (d *Dict) SetAll(src *Dict) error {
	if src == nil {
		return nil
	}
	for _, k := range src.keys {
		if err := d.Set(k, src.values[k]); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes a key. Removing an absent key is a no-op.
func (d *Dict) Remove(key string) error {
	if d.sealed {
		return ErrSealed
	}
	if _, ok := d.values[key]; !ok {
		return nil
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return nil
}

// Seal marks the dict read-only. With deep set, contained dicts and lists
// are sealed too. Sealing is irreversible.
func (d *Dict) Seal(deep bool) {
	d.sealed = true
	if !deep {
		return
	}
	for _, v := range d.values {
		switch c := v.(type) {
		case *Dict:
			c.Seal(true)
		case *List:
			c.Seal(true)
		}
	}
}

// Sealed reports whether the dict rejects modification.
func (d *Dict) Sealed() bool {
	return d.sealed
}

// Copy returns a shallow, unsealed copy of the dict.
func (d *Dict) Copy() *Dict {
	cp := NewDict()
	for _, k := range d.keys {
		cp.keys = append(cp.keys, k)
		cp.values[k] = d.values[k]
	}
	return cp
}

// String returns the dict serialized as compact JSON, for logs and debugging.
func (d *Dict) String() string {
	b, err := Marshal(d)
	if err != nil {
		return fmt.Sprintf("dict(%d keys)", len(d.keys))
	}
	return string(b)
}

// GetString returns a string value, converting scalars if needed.
func (d *Dict) GetString(key, def string) string {
	switch v := d.values[key].(type) {
	case nil:
		return def
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return "@" + strconv.FormatInt(v.UnixMilli(), 10)
	case Path:
		return v.String()
	default:
		return def
	}
}

// GetBool returns a boolean value. Strings are parsed with strconv.ParseBool.
func (d *Dict) GetBool(key string, def bool) bool {
	switch v := d.values[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	case int64:
		return v != 0
	}
	return def
}

// GetInt returns an integer value, converting numeric strings and floats.
func (d *Dict) GetInt(key string, def int) int {
	return int(d.GetInt64(key, int64(def)))
}

// GetInt64 returns a 64-bit integer value, converting numeric strings and
// floats.
func (d *Dict) GetInt64(key string, def int64) int64 {
	switch v := d.values[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return def
}

// GetFloat returns a float value, converting integers and numeric strings.
func (d *Dict) GetFloat(key string, def float64) float64 {
	switch v := d.values[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// GetTime returns a timestamp value. Strings in "@<epoch-millis>" or RFC
// 3339 form and integer epoch milliseconds are converted.
func (d *Dict) GetTime(key string, def time.Time) time.Time {
	switch v := d.values[key].(type) {
	case time.Time:
		return v
	case int64:
		return time.UnixMilli(v)
	case string:
		if t, err := ParseTime(v); err == nil {
			return t
		}
	}
	return def
}

// GetPath returns a path value, parsing strings.
func (d *Dict) GetPath(key string, def Path) Path {
	switch v := d.values[key].(type) {
	case Path:
		return v
	case string:
		if v != "" {
			return NewPath(v)
		}
	}
	return def
}

// GetDict returns a contained dict, or an empty one if absent. The returned
// dict is the stored instance, not a copy.
func (d *Dict) GetDict(key string) *Dict {
	if v, ok := d.values[key].(*Dict); ok {
		return v
	}
	return NewDict()
}

// GetList returns a contained list, or an empty one if absent. The returned
// list is the stored instance, not a copy.
func (d *Dict) GetList(key string) *List {
	if v, ok := d.values[key].(*List); ok {
		return v
	}
	return NewList()
}

// GetStrings returns a list value converted to strings. A plain string value
// is returned as a single-element slice.
func (d *Dict) GetStrings(key string) []string {
	switch v := d.values[key].(type) {
	case *List:
		return v.Strings()
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// ParseTime parses a timestamp string in "@<epoch-millis>" or RFC 3339 form.
func ParseTime(s string) (time.Time, error) {
	if strings.HasPrefix(s, "@") {
		ms, err := strconv.ParseInt(s[1:], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		return time.UnixMilli(ms), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

// normalize converts inserted values to the canonical value types.
func normalize(v any) any {
	switch c := v.(type) {
	case int:
		return int64(c)
	case int8:
		return int64(c)
	case int16:
		return int64(c)
	case int32:
		return int64(c)
	case uint:
		return int64(c)
	case uint8:
		return int64(c)
	case uint16:
		return int64(c)
	case uint32:
		return int64(c)
	case uint64:
		return int64(c)
	case float32:
		return float64(c)
	default:
		return v
	}
}
