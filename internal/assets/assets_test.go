package assets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-vat/pkg/formats"
	"github.com/Faultbox/midgard-vat/pkg/grf"
)

func testModel(t *testing.T) []byte {
	t.Helper()
	data, err := formats.EncodeRSM(&formats.RSM{
		Version:    formats.RSMVersion{Major: 1, Minor: 4},
		AnimLength: 1000,
		Alpha:      1,
		RootNode:   "root",
		Nodes: []formats.RSMNode{{
			Name:     "root",
			Scale:    [3]float32{1, 1, 1},
			Matrix:   [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1},
			Vertices: [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		}},
	})
	require.NoError(t, err)
	return data
}

func createArchive(t *testing.T, name string, files []grf.File) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, grf.Create(path, files))
	return path
}

func TestLoadArchivePriority(t *testing.T) {
	low := createArchive(t, "data.grf", []grf.File{
		{Name: "data/a.txt", Data: []byte("low")},
		{Name: "data/only_low.txt", Data: []byte("only")},
	})
	high := createArchive(t, "rdata.grf", []grf.File{
		{Name: `data\A.txt`, Data: []byte("high")},
	})

	m := NewManager(Options{CacheEntries: 8}, nil)
	defer m.Close()
	require.NoError(t, m.AddArchive(low))
	require.NoError(t, m.AddArchive(high))

	data, err := m.Load("data/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "high", string(data), "last added archive wins")

	data, err = m.Load(`DATA\only_low.txt`)
	require.NoError(t, err)
	assert.Equal(t, "only", string(data))

	_, err = m.Load("data/missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadFallsBackToDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data", "model"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "model", "tree.rsm"), []byte("disk"), 0644))

	archive := createArchive(t, "data.grf", []grf.File{
		{Name: "data/model/rock.rsm", Data: []byte("grf")},
	})

	m := NewManager(Options{CacheEntries: 8}, nil)
	defer m.Close()
	require.NoError(t, m.AddArchive(archive))
	m.AddDir(dir)

	data, err := m.Load("data/model/rock.rsm")
	require.NoError(t, err)
	assert.Equal(t, "grf", string(data))

	data, err = m.Load(`data\model\tree.rsm`)
	require.NoError(t, err)
	assert.Equal(t, "disk", string(data))
}

func TestLoadUsesCache(t *testing.T) {
	archive := createArchive(t, "data.grf", []grf.File{
		{Name: "data/a.txt", Data: []byte("a")},
	})

	m := NewManager(Options{CacheEntries: 8}, nil)
	defer m.Close()
	require.NoError(t, m.AddArchive(archive))

	for i := 0; i < 3; i++ {
		_, err := m.Load("data/a.txt")
		require.NoError(t, err)
	}
	hits, misses := m.cache.Stats()
	assert.Equal(t, 2, hits)
	assert.Equal(t, 1, misses)
}

func TestResolveCandidates(t *testing.T) {
	model := testModel(t)
	archive := createArchive(t, "data.grf", []grf.File{
		{Name: `data\model\prontera\windmill.rsm`, Data: model},
	})

	m := NewManager(Options{ModelPrefix: "data/model/", CacheEntries: 8}, nil)
	defer m.Close()
	require.NoError(t, m.AddArchive(archive))

	for _, name := range []string{
		"prontera/windmill",
		"prontera/windmill.rsm",
		`prontera\windmill.rsm`,
		"data/model/prontera/windmill.rsm",
	} {
		resolved, data, err := m.Resolve(name)
		require.NoError(t, err, name)
		assert.Equal(t, model, data, name)
		assert.Contains(t, resolved, "windmill.rsm", name)
	}

	_, _, err := m.Resolve("prontera/church")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveFallsBackToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.rsm")
	require.NoError(t, os.WriteFile(path, []byte("local"), 0644))

	m := NewManager(Options{ModelPrefix: "data/model/"}, nil)
	resolved, data, err := m.Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, "local", string(data))
}

func TestResolvePrefersArchive(t *testing.T) {
	work := t.TempDir()
	t.Chdir(work)
	require.NoError(t, os.WriteFile("windmill.rsm", []byte("disk"), 0644))

	archive := createArchive(t, "data.grf", []grf.File{
		{Name: `data\model\windmill.rsm`, Data: []byte("grf")},
	})
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data", "model", "windmill"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tree.rsm"), []byte("extracted"), 0644))
	require.NoError(t, os.WriteFile("tree.rsm", []byte("disk"), 0644))

	m := NewManager(Options{ModelPrefix: "data/model/"}, nil)
	defer m.Close()
	require.NoError(t, m.AddArchive(archive))
	m.AddDir(dir)

	// A folder named like the model does not stop the lookup.
	resolved, data, err := m.Resolve("windmill")
	require.NoError(t, err)
	assert.Equal(t, "data/model/windmill.rsm", resolved)
	assert.Equal(t, "grf", string(data))

	resolved, data, err = m.Resolve("tree.rsm")
	require.NoError(t, err)
	assert.Equal(t, "tree.rsm", resolved)
	assert.Equal(t, "extracted", string(data))

	require.NoError(t, os.WriteFile("rock.rsm", []byte("disk"), 0644))
	resolved, data, err = m.Resolve("rock.rsm")
	require.NoError(t, err)
	assert.Equal(t, "rock.rsm", resolved)
	assert.Equal(t, "disk", string(data))
}

func TestLoadRSM(t *testing.T) {
	archive := createArchive(t, "data.grf", []grf.File{
		{Name: "data/model/flag.rsm", Data: testModel(t)},
		{Name: "data/model/broken.rsm", Data: []byte("GRSM\x01")},
	})

	m := NewManager(Options{ModelPrefix: "data/model/"}, nil)
	defer m.Close()
	require.NoError(t, m.AddArchive(archive))

	model, resolved, err := m.LoadRSM("flag")
	require.NoError(t, err)
	assert.Equal(t, "data/model/flag.rsm", resolved)
	assert.Equal(t, 3, model.GetTotalVertexCount())

	_, _, err = m.LoadRSM("broken")
	assert.ErrorIs(t, err, formats.ErrTruncatedRSMData)
}

func TestAddArchiveInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.grf")
	require.NoError(t, os.WriteFile(path, []byte("not a grf"), 0644))

	m := NewManager(Options{}, nil)
	assert.Error(t, m.AddArchive(path))
	assert.Error(t, m.AddArchive(filepath.Join(t.TempDir(), "missing.grf")))
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))

	// Touch a so b is the oldest.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", []byte("3"))
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get("b")
	assert.False(t, ok, "b should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	c.Set("a", []byte("updated"))
	data, _ := c.Get("a")
	assert.Equal(t, "updated", string(data))

	c.Clear()
	assert.Equal(t, 0, c.Len())
	hits, misses := c.Stats()
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}

func TestCacheDisabled(t *testing.T) {
	c := NewCache(0)
	c.Set("a", []byte("1"))
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}
