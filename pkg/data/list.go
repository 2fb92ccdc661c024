package data

// List is an ordered sequence of values with the same supported types and
// seal semantics as Dict.
type List struct {
	items  []any
	sealed bool
}

// NewList creates an empty list.
func NewList() *List {
	return &List{}
}

// NewListOf creates a list holding the given values.
func NewListOf(values ...any) *List {
	l := NewList()
	for _, v := range values {
		l.items = append(l.items, normalize(v))
	}
	return l
}

// Len returns the number of items.
func (l *List) Len() int {
	return len(l.items)
}

// Get returns the item at pos, or nil if out of range.
func (l *List) Get(pos int) any {
	if pos < 0 || pos >= len(l.items) {
		return nil
	}
	return l.items[pos]
}

// Add appends a value.
func (l *List) Add(value any) error {
	if l.sealed {
		return ErrSealed
	}
	l.items = append(l.items, normalize(value))
	return nil
}

// Remove deletes the item at pos. Out-of-range positions are a no-op.
func (l *List) Remove(pos int) error {
	if l.sealed {
		return ErrSealed
	}
	if pos < 0 || pos >= len(l.items) {
		return nil
	}
	l.items = append(l.items[:pos], l.items[pos+1:]...)
	return nil
}

// Contains reports whether an equal value is present. Only scalar values
// compare equal.
func (l *List) Contains(value any) bool {
	v := normalize(value)
	for _, item := range l.items {
		if item == v {
			return true
		}
	}
	return false
}

// Items returns a copy of the item slice.
func (l *List) Items() []any {
	cp := make([]any, len(l.items))
	copy(cp, l.items)
	return cp
}

// Strings returns the items converted to strings. Non-scalar items are
// skipped.
func (l *List) Strings() []string {
	var out []string
	for _, item := range l.items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case nil, *Dict, *List:
			// Skip non-scalar items.
		default:
			d := Dict{values: map[string]any{"v": item}}
			if s := d.GetString("v", ""); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Dicts returns the items that are dicts.
func (l *List) Dicts() []*Dict {
	var out []*Dict
	for _, item := range l.items {
		if d, ok := item.(*Dict); ok {
			out = append(out, d)
		}
	}
	return out
}

// Seal marks the list read-only. With deep set, contained dicts and lists
// are sealed too.
func (l *List) Seal(deep bool) {
	l.sealed = true
	if !deep {
		return
	}
	for _, item := range l.items {
		switch c := item.(type) {
		case *Dict:
			c.Seal(true)
		case *List:
			c.Seal(true)
		}
	}
}

// Sealed reports whether the list rejects modification.
func (l *List) Sealed() bool {
	return l.sealed
}

// Copy returns a shallow, unsealed copy of the list.
func (l *List) Copy() *List {
	cp := NewList()
	cp.items = append(cp.items, l.items...)
	return cp
}
