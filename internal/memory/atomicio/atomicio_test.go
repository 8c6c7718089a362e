package atomicio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.json")

	require.NoError(t, WriteJSON(path, sample{Name: "x", Count: 1}))

	var got sample
	require.NoError(t, ReadJSON(path, &got))
	require.Equal(t, sample{Name: "x", Count: 1}, got)

	_, err := os.Stat(path + ".bak")
	require.True(t, os.IsNotExist(err), "no backup expected before first overwrite")
}

func TestWriteCreatesBackupOnOverwrite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.json")

	require.NoError(t, WriteJSON(path, sample{Name: "first"}))
	require.NoError(t, WriteJSON(path, sample{Name: "second"}))

	var backup sample
	require.NoError(t, ReadJSON(path+".bak", &backup))
	require.Equal(t, "first", backup.Name)

	var current sample
	require.NoError(t, ReadJSON(path, &current))
	require.Equal(t, "second", current.Name)
}

func TestReadJSONRecoversFromBackupOnCorruption(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.json")

	require.NoError(t, WriteJSON(path, sample{Name: "good"}))
	require.NoError(t, WriteJSON(path, sample{Name: "better"}))

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var got sample
	require.NoError(t, ReadJSON(path, &got))
	require.Equal(t, "good", got.Name, "should recover from .bak, which held the previous value")

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestReadJSONMissingFileReturnsNotExist(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var got sample
	err := ReadJSON(filepath.Join(dir, "missing.json"), &got)
	require.True(t, os.IsNotExist(err))
}

func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.json")
	require.NoError(t, Delete(path))
	require.NoError(t, WriteJSON(path, sample{Name: "x"}))
	require.NoError(t, Delete(path))
	require.NoError(t, Delete(path))
}

func TestListJSONFilesSkipsNonJSONAndMissingDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	names, err := ListJSONFiles(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, WriteJSON(filepath.Join(dir, "b.json"), sample{}))
	require.NoError(t, WriteJSON(filepath.Join(dir, "a.json"), sample{}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o755))

	names, err = ListJSONFiles(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"a.json", "b.json"}, names)
}
