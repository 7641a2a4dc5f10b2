package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryWritableFalseSilentlyDrops(t *testing.T) {
	m := NewMemory()
	require.True(t, m.SetItem("locked", []byte("initial")))
	require.True(t, m.DefineCacheItem("locked", Descriptor{Configurable: false, Deletable: true, Writable: false}))

	ok := m.SetItem("locked", []byte("new"))
	require.False(t, ok)

	val, found := m.GetItem("locked")
	require.True(t, found)
	require.Equal(t, "initial", string(val))
}

func TestMemoryNonConfigurableDescriptorFrozen(t *testing.T) {
	m := NewMemory()
	require.True(t, m.DefineCacheItem("k", Descriptor{Configurable: false, Deletable: true, Writable: true}))
	require.False(t, m.DefineCacheItem("k", Descriptor{Configurable: true, Deletable: true, Writable: false}))

	require.True(t, m.SetItem("k", []byte("v")))
}

func TestMemoryNonDeletableExcludedFromClear(t *testing.T) {
	m := NewMemory()
	require.True(t, m.DefineCacheItem("sticky", Descriptor{Deletable: false, Writable: true}))
	require.True(t, m.SetItem("sticky", []byte("v")))
	require.True(t, m.SetItem("other", []byte("v2")))

	require.False(t, m.RemoveItem("sticky"))
	m.Clear()

	_, found := m.GetItem("sticky")
	require.True(t, found)
	_, found = m.GetItem("other")
	require.False(t, found)
}

func TestPersistentRestoresAcrossConstruction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")

	p1, err := NewPersistent(path, "_LDS_")
	require.NoError(t, err)
	require.True(t, p1.SetItem("token", []byte("a.b.c")))
	require.NoError(t, p1.Flush())

	p2, err := NewPersistent(path, "_LDS_")
	require.NoError(t, err)
	val, found := p2.GetItem("token")
	require.True(t, found)
	require.Equal(t, "a.b.c", string(val))
}

func TestPersistentFlushOnlyWritesDirtyKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")

	p, err := NewPersistent(path, "_LDS_")
	require.NoError(t, err)
	require.True(t, p.SetItem("a", []byte("1")))
	require.NoError(t, p.Flush())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "_LDS_a")

	require.True(t, p.RemoveItem("a"))
	require.NoError(t, p.Flush())

	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "_LDS_a")
}

func TestPersistentDeletableGatesRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")

	p, err := NewPersistent(path, "_LDS_")
	require.NoError(t, err)
	require.True(t, p.DefineCacheItem("clientId", Descriptor{Deletable: false, Writable: true}))
	require.True(t, p.SetItem("clientId", []byte("CID")))

	require.False(t, p.RemoveItem("clientId"))
	val, found := p.GetItem("clientId")
	require.True(t, found)
	require.Equal(t, "CID", string(val))
}
