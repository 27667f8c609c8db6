package core

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeBackupFixture(t *testing.T, layout Layout, name, source string, startTime time.Time, manifest string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(layout.BackupDir(name), 0755))
	require.NoError(t, WriteStartInfo(layout.StartInfoPath(name), StartInfo{SourcePath: source, StartTime: startTime}))
	require.NoError(t, os.WriteFile(layout.ManifestPath(name), []byte(manifest), 0644))
}

func TestLoadHistorySkipsUnreadableBackups(t *testing.T) {
	target := t.TempDir()
	layout := NewLayout(target)

	writeBackupFixture(t, layout, "AAAAAAAAAAAAAAAA", "/data/src", time.Now().UTC(), "+f;a.txt\n")
	// A second backup whose manifest is unreadable (directory instead of
	// a file) must be skipped with a warning, not abort the load.
	require.NoError(t, os.MkdirAll(layout.BackupDir("BBBBBBBBBBBBBBBB"), 0755))
	require.NoError(t, WriteStartInfo(layout.StartInfoPath("BBBBBBBBBBBBBBBB"), StartInfo{SourcePath: "/data/src", StartTime: time.Now().UTC()}))
	require.NoError(t, os.MkdirAll(layout.ManifestPath("BBBBBBBBBBBBBBBB"), 0755))

	require.NoError(t, AppendIndexEntry(layout.IndexPath(), IndexEntry{BackupName: "AAAAAAAAAAAAAAAA", SourcePath: "/data/src"}))
	require.NoError(t, AppendIndexEntry(layout.IndexPath(), IndexEntry{BackupName: "BBBBBBBBBBBBBBBB", SourcePath: "/data/src"}))

	idx, err := ReadIndex(layout.IndexPath())
	require.NoError(t, err)

	history := LoadHistory(layout, idx, "/data/src", nil)
	require.Len(t, history, 1)
	require.Equal(t, "AAAAAAAAAAAAAAAA", history[0].Name)
}

func TestLoadHistorySkipsInconsistentSource(t *testing.T) {
	target := t.TempDir()
	layout := NewLayout(target)

	writeBackupFixture(t, layout, "AAAAAAAAAAAAAAAA", "/data/real-source", time.Now().UTC(), "")
	require.NoError(t, AppendIndexEntry(layout.IndexPath(), IndexEntry{BackupName: "AAAAAAAAAAAAAAAA", SourcePath: "/data/claimed-source"}))

	idx, err := ReadIndex(layout.IndexPath())
	require.NoError(t, err)

	history := LoadHistory(layout, idx, "/data/claimed-source", nil)
	require.Empty(t, history)
}

func TestLoadHistoryOnlyMatchingSource(t *testing.T) {
	target := t.TempDir()
	layout := NewLayout(target)

	writeBackupFixture(t, layout, "AAAAAAAAAAAAAAAA", "/data/src-a", time.Now().UTC(), "")
	writeBackupFixture(t, layout, "BBBBBBBBBBBBBBBB", "/data/src-b", time.Now().UTC(), "")
	require.NoError(t, AppendIndexEntry(layout.IndexPath(), IndexEntry{BackupName: "AAAAAAAAAAAAAAAA", SourcePath: "/data/src-a"}))
	require.NoError(t, AppendIndexEntry(layout.IndexPath(), IndexEntry{BackupName: "BBBBBBBBBBBBBBBB", SourcePath: "/data/src-b"}))

	idx, err := ReadIndex(layout.IndexPath())
	require.NoError(t, err)

	history := LoadHistory(layout, idx, "/data/src-a", nil)
	require.Len(t, history, 1)
	require.Equal(t, "AAAAAAAAAAAAAAAA", history[0].Name)
}

func TestLoadHistoryUsesCache(t *testing.T) {
	target := t.TempDir()
	layout := NewLayout(target)
	writeBackupFixture(t, layout, "AAAAAAAAAAAAAAAA", "/data/src", time.Now().UTC(), "+f;a.txt\n")
	require.NoError(t, AppendIndexEntry(layout.IndexPath(), IndexEntry{BackupName: "AAAAAAAAAAAAAAAA", SourcePath: "/data/src"}))

	cache, err := OpenHistoryCache(target)
	require.NoError(t, err)
	defer cache.Close()

	idx, err := ReadIndex(layout.IndexPath())
	require.NoError(t, err)

	first := LoadHistory(layout, idx, "/data/src", cache)
	require.Len(t, first, 1)

	// Corrupt the on-disk manifest while keeping its size and mtime, so the
	// cached stamp still matches; a cache hit must still return the
	// previously-parsed tree rather than re-reading the now-broken file.
	manifestPath := layout.ManifestPath("AAAAAAAAAAAAAAAA")
	info, err := os.Stat(manifestPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifestPath, []byte("??;a.txt\n"), 0644))
	require.NoError(t, os.Chtimes(manifestPath, info.ModTime(), info.ModTime()))

	second := LoadHistory(layout, idx, "/data/src", cache)
	require.Len(t, second, 1)
	require.Equal(t, []string{"a.txt"}, second[0].Manifest.Files)
}
