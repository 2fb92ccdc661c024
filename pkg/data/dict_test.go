package data

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDictSetGet tests insertion order and typed accessors
func TestDictSetGet(t *testing.T) {
	d := NewDict()
	require.NoError(t, d.Set("name", "db"))
	require.NoError(t, d.Set("maxOpen", 4))
	require.NoError(t, d.Set("ratio", 0.5))
	require.NoError(t, d.Set("enabled", true))

	assert.Equal(t, []string{"name", "maxOpen", "ratio", "enabled"}, d.Keys())
	assert.Equal(t, "db", d.GetString("name", ""))
	assert.Equal(t, 4, d.GetInt("maxOpen", 0))
	assert.Equal(t, 0.5, d.GetFloat("ratio", 0))
	assert.True(t, d.GetBool("enabled", false))

	// Re-setting a key keeps its position.
	require.NoError(t, d.Set("name", "other"))
	assert.Equal(t, []string{"name", "maxOpen", "ratio", "enabled"}, d.Keys())
	assert.Equal(t, "other", d.GetString("name", ""))
}

// TestDictConversions tests cross-type accessor coercion
func TestDictConversions(t *testing.T) {
	d := NewDict()
	require.NoError(t, d.Set("numStr", "42"))
	require.NoError(t, d.Set("boolStr", "true"))
	require.NoError(t, d.Set("num", 7))
	require.NoError(t, d.Set("stamp", "@1700000000000"))

	assert.Equal(t, 42, d.GetInt("numStr", 0))
	assert.True(t, d.GetBool("boolStr", false))
	assert.Equal(t, "7", d.GetString("num", ""))
	assert.Equal(t, time.UnixMilli(1700000000000), d.GetTime("stamp", time.Time{}))

	// Defaults apply to absent keys and failed conversions.
	assert.Equal(t, 9, d.GetInt("missing", 9))
	assert.Equal(t, 9, d.GetInt("boolStr", 9))
}

// TestDictRemove tests key removal
func TestDictRemove(t *testing.T) {
	d := NewDict()
	require.NoError(t, d.Set("a", 1))
	require.NoError(t, d.Set("b", 2))
	require.NoError(t, d.Set("c", 3))

	require.NoError(t, d.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, d.Keys())
	assert.False(t, d.Has("b"))

	// Removing an absent key is a no-op.
	require.NoError(t, d.Remove("zz"))
	assert.Equal(t, 2, d.Len())
}

// TestDictSeal tests that sealed containers reject modification
func TestDictSeal(t *testing.T) {
	inner := NewDict()
	require.NoError(t, inner.Set("x", 1))
	list := NewListOf("a", "b")

	d := NewDict()
	require.NoError(t, d.Set("inner", inner))
	require.NoError(t, d.Set("list", list))
	d.Seal(true)

	assert.True(t, d.Sealed())
	assert.ErrorIs(t, d.Set("y", 2), ErrSealed)
	assert.ErrorIs(t, d.Remove("inner"), ErrSealed)
	assert.ErrorIs(t, inner.Set("x", 2), ErrSealed)
	assert.ErrorIs(t, list.Add("c"), ErrSealed)

	// A copy is unsealed and mutable again.
	cp := d.Copy()
	assert.False(t, cp.Sealed())
	assert.NoError(t, cp.Set("y", 2))
}

// TestDictShallowSeal tests that shallow sealing leaves children mutable
func TestDictShallowSeal(t *testing.T) {
	inner := NewDict()
	d := NewDict()
	require.NoError(t, d.Set("inner", inner))
	d.Seal(false)

	assert.ErrorIs(t, d.Set("y", 2), ErrSealed)
	assert.NoError(t, inner.Set("x", 1))
}

// TestDictGetStrings tests list and scalar string extraction
func TestDictGetStrings(t *testing.T) {
	d := NewDict()
	require.NoError(t, d.Set("roles", NewListOf("admin", "users")))
	require.NoError(t, d.Set("single", "only"))

	assert.Equal(t, []string{"admin", "users"}, d.GetStrings("roles"))
	assert.Equal(t, []string{"only"}, d.GetStrings("single"))
	assert.Nil(t, d.GetStrings("missing"))
}

// TestDictEmptyKey tests that empty keys are rejected
func TestDictEmptyKey(t *testing.T) {
	d := NewDict()
	err := d.Set("", 1)
	if err == nil {
		t.Fatal("Set() accepted an empty key")
	}
	if errors.Is(err, ErrSealed) {
		t.Fatal("empty key reported as seal error")
	}
}

// TestListOperations tests list ordering and membership
func TestListOperations(t *testing.T) {
	l := NewListOf("a", 1, true)
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, "a", l.Get(0))
	assert.Equal(t, int64(1), l.Get(1))
	assert.Nil(t, l.Get(99))

	assert.True(t, l.Contains("a"))
	assert.True(t, l.Contains(1))
	assert.False(t, l.Contains("zz"))

	require.NoError(t, l.Remove(0))
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, int64(1), l.Get(0))
}
