package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hutchhq/hutch/pkg/data"
)

func TestBoltStorageRoundTrip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "hutch.db")
	s, err := NewBoltStorage(file, false)
	require.NoError(t, err)
	defer s.Close()

	path := data.NewPath("/.metrics/procedure/system.status")
	require.NoError(t, s.Store(path, testDict(t, "type", "metrics", "count", 3)))

	loaded, err := s.Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, int64(3), loaded.GetInt64("count", 0))

	meta, err := s.Meta(path)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Greater(t, meta.Size, int64(0))

	require.NoError(t, s.Remove(path))
	loaded, err = s.Load(path)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestBoltStorageQueryPrefix(t *testing.T) {
	file := filepath.Join(t.TempDir(), "hutch.db")
	s, err := NewBoltStorage(file, false)
	require.NoError(t, err)
	defer s.Close()

	for _, p := range []string{"/a/1", "/a/2", "/ab/3", "/b/4"} {
		require.NoError(t, s.Store(data.NewPath(p), testDict(t, "id", p)))
	}

	var got []string
	require.NoError(t, s.Query(data.NewPath("/a/"), func(meta Metadata) bool {
		got = append(got, meta.Path.String())
		return true
	}))
	assert.Equal(t, []string{"/a/1", "/a/2"}, got)

	got = nil
	require.NoError(t, s.Query(data.Root, func(meta Metadata) bool {
		got = append(got, meta.Path.String())
		return true
	}))
	assert.Len(t, got, 4)
}

func TestBoltStoragePersistsAcrossReopen(t *testing.T) {
	file := filepath.Join(t.TempDir(), "hutch.db")
	s, err := NewBoltStorage(file, false)
	require.NoError(t, err)
	path := data.NewPath("/config")
	require.NoError(t, s.Store(path, testDict(t, "port", 8180)))
	require.NoError(t, s.Close())

	reopened, err := NewBoltStorage(file, true)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 8180, loaded.GetInt("port", 0))

	err = reopened.Store(path, testDict(t))
	assert.True(t, errors.Is(err, ErrReadOnly))
	err = reopened.Remove(path)
	assert.True(t, errors.Is(err, ErrReadOnly))
}
