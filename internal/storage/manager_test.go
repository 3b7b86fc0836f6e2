package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	return s, dir
}

func TestSaveAndReadByName(t *testing.T) {
	s, dir := newTestStore(t)

	info, err := s.SaveBytes("plant.svg", []byte("<svg/>"))
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "plant.svg", info.Name)
	assert.Equal(t, int64(6), info.Size)

	data, err := s.ReadByName("plant.svg")
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(data))

	// Files keep their plain names on disk.
	_, err = os.Stat(filepath.Join(dir, "plant.svg"))
	assert.NoError(t, err)
}

func TestSaveReplacesExistingName(t *testing.T) {
	s, _ := newTestStore(t)

	first, err := s.SaveBytes("plant.svg", []byte("v1"))
	require.NoError(t, err)
	second, err := s.Save("plant.svg", strings.NewReader("v2"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same name keeps the same id")
	data, err := s.ReadByName("plant.svg")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	files, err := s.List(0)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestIndexesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pre.svg"), []byte("<svg/>"), 0644))

	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	info, err := s.GetByName("pre.svg")
	require.NoError(t, err)
	assert.Equal(t, "pre.svg", info.Name)

	data, err := s.ReadByName("pre.svg")
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(data))
}

func TestReadByNameRejectsPathEscapes(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.SaveBytes("plant.svg", []byte("<svg/>"))
	require.NoError(t, err)

	// Path components are stripped; the lookup happens on the base name.
	data, err := s.ReadByName("../nested/plant.svg")
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(data))

	_, err = s.ReadByName("../../etc/passwd")
	assert.Error(t, err)

	_, err = s.ReadByName(".hidden")
	assert.Error(t, err)
}

func TestListNewestFirstWithLimit(t *testing.T) {
	s, _ := newTestStore(t)

	for _, name := range []string{"a.svg", "b.svg", "c.svg"} {
		_, err := s.SaveBytes(name, []byte("<svg/>"))
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	files, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "c.svg", files[0].Name)

	limited, err := s.List(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDelete(t *testing.T) {
	s, dir := newTestStore(t)
	info, err := s.SaveBytes("plant.svg", []byte("<svg/>"))
	require.NoError(t, err)

	path, err := s.GetFilePath(info.ID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "plant.svg"), path)

	require.NoError(t, s.Delete(info.ID))
	_, err = s.Get(info.ID)
	assert.Error(t, err)
	_, err = s.ReadByName("plant.svg")
	assert.Error(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, s.Delete(info.ID), "double delete fails")
}
