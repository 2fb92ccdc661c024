package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hutchhq/hutch/pkg/data"
)

// trackedObject records lifecycle calls for cache assertions.
type trackedObject struct {
	*BaseObject
	destroyed  bool
	passivated int
}

func newTrackedObject(id, typ string, d *data.Dict) (Object, error) {
	if d.GetBool("broken", false) {
		return nil, fmt.Errorf("broken object %s", id)
	}
	return &trackedObject{BaseObject: NewBaseObject(id, typ, d)}, nil
}

func (o *trackedObject) Destroy()   { o.destroyed = true }
func (o *trackedObject) Passivate() { o.passivated++ }

func newTestRoot(t *testing.T) (*Root, *MemoryStorage) {
	t.Helper()
	root := NewRoot(nil)
	mem := NewMemoryStorage()
	mount := data.NewPath("/storage/memory/base/")
	require.NoError(t, root.Mount(mem, mount))
	require.NoError(t, root.Remount(mount, false, data.Root, 0))
	return root, mem
}

func TestRootStoreAndLoad(t *testing.T) {
	root, _ := newTestRoot(t)
	path := data.NewPath("/user/admin")
	require.NoError(t, root.Store(path, testDict(t, "id", "admin", "type", "user")))

	loaded, err := root.Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "admin", loaded.GetString("id", ""))

	// the mounted storage is also addressable below its mount point
	direct, err := root.Load(data.NewPath("/storage/memory/base/user/admin"))
	require.NoError(t, err)
	require.NotNil(t, direct)
	assert.Equal(t, "admin", direct.GetString("id", ""))

	meta, err := root.Meta(data.NewPath("/storage/memory/base/"))
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.True(t, meta.Mounted)
}

func TestRootReadOnlyByDefault(t *testing.T) {
	root := NewRoot(nil)
	require.NoError(t, root.Mount(NewMemoryStorage(), data.NewPath("/storage/memory/ro/")))

	err := root.Store(data.NewPath("/storage/memory/ro/x"), testDict(t))
	assert.True(t, errors.Is(err, ErrReadOnly))

	err = root.Remove(data.NewPath("/storage/memory/ro/x"))
	assert.True(t, errors.Is(err, ErrReadOnly))
}

func TestRootShadowing(t *testing.T) {
	root := NewRoot(nil)
	high := NewMemoryStorage()
	low := NewMemoryStorage()
	highMount := data.NewPath("/storage/memory/high/")
	lowMount := data.NewPath("/storage/memory/low/")
	require.NoError(t, root.Mount(high, highMount))
	require.NoError(t, root.Mount(low, lowMount))
	require.NoError(t, root.Remount(highMount, false, data.Root, 10))
	require.NoError(t, root.Remount(lowMount, false, data.Root, 0))

	path := data.NewPath("/env/prod")
	require.NoError(t, high.Store(path, testDict(t, "source", "high")))
	require.NoError(t, low.Store(path, testDict(t, "source", "low")))

	loaded, err := root.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "high", loaded.GetString("source", ""))

	// shadowed duplicates appear once in queries
	count := 0
	require.NoError(t, root.Query(data.NewPath("/env/"), func(meta Metadata) bool {
		count++
		return true
	}))
	assert.Equal(t, 1, count)

	// raising the low mount's priority flips resolution
	require.NoError(t, root.Remount(lowMount, false, data.Root, 20))
	loaded, err = root.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "low", loaded.GetString("source", ""))
}

func TestRootQueryHidesDotPaths(t *testing.T) {
	root, _ := newTestRoot(t)
	require.NoError(t, root.Store(data.NewPath("/user/a"), testDict(t, "id", "a")))
	require.NoError(t, root.Store(data.NewPath("/.metrics/proc/x"), testDict(t, "count", 1)))

	var visible []string
	require.NoError(t, root.Query(data.Root, func(meta Metadata) bool {
		visible = append(visible, meta.Path.String())
		return true
	}))
	assert.Contains(t, visible, "/user/a")
	for _, p := range visible {
		assert.NotContains(t, p, ".metrics")
	}

	var hidden []string
	require.NoError(t, root.Query(data.NewPath("/.metrics/"), func(meta Metadata) bool {
		hidden = append(hidden, meta.Path.String())
		return true
	}))
	assert.Equal(t, []string{"/.metrics/proc/x"}, hidden)
}

func registerTracked(t *testing.T, root *Root) {
	t.Helper()
	root.Registry().Register("test/tracked", newTrackedObject)
	require.NoError(t, root.Store(data.NewPath("/type/tracked"),
		testDict(t, "initializer", "test/tracked")))
	require.NoError(t, root.Store(data.NewPath("/type/widget"),
		testDict(t, "initializer", "test/tracked", "alias", data.NewListOf("gadget"))))
}

func TestRootLoadObject(t *testing.T) {
	root, _ := newTestRoot(t)
	registerTracked(t, root)

	path := data.NewPath("/thing/one")
	require.NoError(t, root.Store(path, testDict(t, "type", "tracked", "n", 1)))

	obj, err := root.LoadObject(path)
	require.NoError(t, err)
	tracked, ok := obj.(*trackedObject)
	require.True(t, ok, "expected typed object, got %T", obj)
	assert.Equal(t, "one", tracked.ID())
	assert.Equal(t, "tracked", tracked.Type())

	// second load returns the cached instance
	again, err := root.LoadObject(path)
	require.NoError(t, err)
	assert.Same(t, obj, again)
	assert.Equal(t, 1, root.CacheSize())

	// missing objects return nil without error
	missing, err := root.LoadObject(data.NewPath("/thing/none"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRootLoadObjectNestedID(t *testing.T) {
	root, _ := newTestRoot(t)
	registerTracked(t, root)

	// nested objects keep the full subpath as their id
	path := data.NewPath("/thing/group/one")
	require.NoError(t, root.Store(path, testDict(t, "type", "tracked", "n", 1)))

	obj, err := root.LoadObject(path)
	require.NoError(t, err)
	assert.Equal(t, "group/one", obj.ID())
}

func TestRootLoadObjectTypeFallbacks(t *testing.T) {
	root, _ := newTestRoot(t)
	registerTracked(t, root)

	// subtype ids fall back to the parent type descriptor
	sub := data.NewPath("/thing/special")
	require.NoError(t, root.Store(sub, testDict(t, "type", "tracked/special")))
	obj, err := root.LoadObject(sub)
	require.NoError(t, err)
	assert.IsType(t, &trackedObject{}, obj)

	// aliases resolve through the descriptor scan
	aliased := data.NewPath("/thing/aliased")
	require.NoError(t, root.Store(aliased, testDict(t, "type", "gadget")))
	obj, err = root.LoadObject(aliased)
	require.NoError(t, err)
	assert.IsType(t, &trackedObject{}, obj)

	// unknown types load as plain objects
	plain := data.NewPath("/thing/plain")
	require.NoError(t, root.Store(plain, testDict(t, "type", "mystery")))
	obj, err = root.LoadObject(plain)
	require.NoError(t, err)
	assert.IsType(t, &BaseObject{}, obj)
}

func TestRootLoadObjectConstructFailure(t *testing.T) {
	root, _ := newTestRoot(t)
	registerTracked(t, root)

	path := data.NewPath("/thing/bad")
	require.NoError(t, root.Store(path, testDict(t, "type", "tracked", "broken", true)))

	obj, err := root.LoadObject(path)
	assert.Nil(t, obj)
	assert.True(t, errors.Is(err, ErrBadObject))
	assert.Equal(t, 0, root.CacheSize())
}

func TestRootCacheLifecycle(t *testing.T) {
	root, mem := newTestRoot(t)
	registerTracked(t, root)

	path := data.NewPath("/thing/one")
	require.NoError(t, root.Store(path, testDict(t, "type", "tracked", "n", 1)))

	obj, err := root.LoadObject(path)
	require.NoError(t, err)
	tracked := obj.(*trackedObject)

	require.NoError(t, tracked.Dict().Set("n", 2))
	tracked.MarkModified()

	// active objects survive the sweep but get passivated
	now := time.Now()
	root.CleanCache(now, false)
	assert.Equal(t, 1, root.CacheSize())
	assert.Equal(t, 1, tracked.passivated)
	assert.False(t, tracked.destroyed)

	// inactive objects are written back and evicted
	root.CleanCache(now.Add(ObjectActiveWindow+time.Minute), false)
	assert.Equal(t, 0, root.CacheSize())
	assert.True(t, tracked.destroyed)

	stored, err := mem.Load(data.NewPath("/thing/one"))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 2, stored.GetInt("n", 0))
}

func TestRootStoreInvalidatesCache(t *testing.T) {
	root, _ := newTestRoot(t)
	registerTracked(t, root)

	path := data.NewPath("/thing/one")
	require.NoError(t, root.Store(path, testDict(t, "type", "tracked", "n", 1)))

	obj, err := root.LoadObject(path)
	require.NoError(t, err)
	tracked := obj.(*trackedObject)

	require.NoError(t, root.Store(path, testDict(t, "type", "tracked", "n", 5)))
	assert.True(t, tracked.destroyed)

	reloaded, err := root.LoadObject(path)
	require.NoError(t, err)
	assert.NotSame(t, obj, reloaded)
	assert.Equal(t, 5, reloaded.Dict().GetInt("n", 0))
}

func TestRootUnmount(t *testing.T) {
	root, _ := newTestRoot(t)
	path := data.NewPath("/user/admin")
	require.NoError(t, root.Store(path, testDict(t, "id", "admin")))

	mount := data.NewPath("/storage/memory/base/")
	require.NoError(t, root.Unmount(mount))

	loaded, err := root.Load(path)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	err = root.Unmount(mount)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRootRemove(t *testing.T) {
	root, _ := newTestRoot(t)
	path := data.NewPath("/user/gone")
	require.NoError(t, root.Store(path, testDict(t, "id", "gone")))
	require.NoError(t, root.Remove(path))

	loaded, err := root.Load(path)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	// removing a missing object is a no-op
	require.NoError(t, root.Remove(path))
}
