package core

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) (*ManifestWriter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.txt")
	w, err := NewManifestWriter(path)
	require.NoError(t, err)
	return w, path
}

func readBackTree(t *testing.T, path string) *Directory {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tree, err := ReadManifest(bytes.NewReader(data))
	require.NoError(t, err)
	return tree
}

func TestTraverseFirstBackupCopiesEverything(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "root.txt"), []byte("r"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(source, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "sub", "inner.txt"), []byte("i"), 0644))

	dataDir := t.TempDir()
	w, manifestPath := newTestWriter(t)

	result, err := Traverse(TraverseOptions{
		SourceRoot: source,
		DataDir:    dataDir,
		Sum:        newSumDirectory(""),
		Writer:     w,
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.False(t, result.PathsSkipped)
	require.True(t, result.ManifestComplete)

	require.FileExists(t, filepath.Join(dataDir, "root.txt"))
	require.FileExists(t, filepath.Join(dataDir, "sub", "inner.txt"))

	tree := readBackTree(t, manifestPath)
	require.Equal(t, []string{"root.txt"}, tree.Files)
	require.Len(t, tree.Dirs, 1)
	require.Equal(t, []string{"inner.txt"}, tree.Dirs[0].Files)
}

func TestTraverseSkipsUnmodifiedFile(t *testing.T) {
	source := t.TempDir()
	filePath := filepath.Join(source, "a.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("v1"), 0644))

	info, err := os.Stat(filePath)
	require.NoError(t, err)

	sum := newSumDirectory("")
	sum.Files = append(sum.Files, &SumFile{
		Name:            "a.txt",
		LastBackupName:  "PRIOR",
		LastBackupStart: info.ModTime().UTC().Add(time.Second),
	})

	dataDir := t.TempDir()
	w, _ := newTestWriter(t)

	result, err := Traverse(TraverseOptions{SourceRoot: source, DataDir: dataDir, Sum: sum, Writer: w})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.False(t, result.PathsSkipped)

	require.NoFileExists(t, filepath.Join(dataDir, "a.txt"))
}

func TestTraverseDetectsFileAndDirectoryRemoval(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "kept.txt"), []byte("k"), 0644))

	sum := newSumDirectory("")
	sum.Files = append(sum.Files, &SumFile{Name: "kept.txt", LastBackupName: "P", LastBackupStart: time.Unix(0, 0).UTC()})
	sum.Files = append(sum.Files, &SumFile{Name: "gone.txt", LastBackupName: "P", LastBackupStart: time.Unix(0, 0).UTC()})
	sum.Dirs = append(sum.Dirs, newSumDirectory("gone-dir"))

	dataDir := t.TempDir()
	w, manifestPath := newTestWriter(t)

	result, err := Traverse(TraverseOptions{SourceRoot: source, DataDir: dataDir, Sum: sum, Writer: w})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.False(t, result.PathsSkipped)
	require.True(t, result.ManifestComplete)

	tree := readBackTree(t, manifestPath)
	require.Equal(t, []string{"gone.txt"}, tree.RemovedFiles)
	require.Equal(t, []string{"gone-dir"}, tree.RemovedDirs)
}

func TestTraverseExcludesPath(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(source, "keep.txt"), []byte("k"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(source, "skip"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "skip", "x.txt"), []byte("x"), 0644))

	dataDir := t.TempDir()
	w, manifestPath := newTestWriter(t)

	result, err := Traverse(TraverseOptions{
		SourceRoot: source,
		DataDir:    dataDir,
		Excludes:   []string{filepath.Join(source, "skip")},
		Sum:        newSumDirectory(""),
		Writer:     w,
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.False(t, result.PathsSkipped)

	require.FileExists(t, filepath.Join(dataDir, "keep.txt"))
	require.NoDirExists(t, filepath.Join(dataDir, "skip"))

	tree := readBackTree(t, manifestPath)
	require.Empty(t, tree.Dirs)
}

func TestTraverseRootEnumerationFailureIsFatal(t *testing.T) {
	source := filepath.Join(t.TempDir(), "does-not-exist")
	dataDir := t.TempDir()
	w, _ := newTestWriter(t)
	defer w.Close()

	result, err := Traverse(TraverseOptions{SourceRoot: source, DataDir: dataDir, Sum: newSumDirectory(""), Writer: w})
	require.Error(t, err)
	require.False(t, result.PathsSkipped) // fatal abort, not a skip-and-continue
}

func TestTraverseDepthReturnsToZero(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(source, "a", "b", "c"), 0755))

	dataDir := t.TempDir()
	w, _ := newTestWriter(t)

	_, err := Traverse(TraverseOptions{SourceRoot: source, DataDir: dataDir, Sum: newSumDirectory(""), Writer: w})
	require.NoError(t, err)
	require.Equal(t, 0, w.Depth())
	require.NoError(t, w.Close())
}
