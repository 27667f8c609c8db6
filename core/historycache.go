// core/historycache.go
package core

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func unixNanoToTime(nano int64) time.Time {
	return time.Unix(0, nano).UTC()
}

// HistoryCache is an optional, read-through memoization of parsed
// BackupMetadata, keyed by backup directory name plus the size and
// modification time of its start.json/manifest.txt. It never becomes
// the source of truth: a cache miss, a stale entry, or any SQLite error
// simply falls back to re-parsing the on-disk files (core/history.go).
//
// Schema-on-open: CREATE TABLE IF NOT EXISTS against one *sql.DB per
// target directory.
type HistoryCache struct {
	db *sql.DB
}

// OpenHistoryCache opens (or creates) the cache database under the
// target directory. A nil *HistoryCache with a non-nil error means the
// cache is unavailable; callers should proceed without one rather than
// fail the run.
func OpenHistoryCache(targetDir string) (*HistoryCache, error) {
	path := filepath.Join(targetDir, ".incbackup-cache.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS history_cache (
		backup_name    TEXT NOT NULL PRIMARY KEY,
		start_size     INTEGER NOT NULL,
		start_mtime    INTEGER NOT NULL,
		manifest_size  INTEGER NOT NULL,
		manifest_mtime INTEGER NOT NULL,
		source_path    TEXT NOT NULL,
		start_time     INTEGER NOT NULL,
		manifest_blob  BLOB NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &HistoryCache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *HistoryCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

type fileStamp struct {
	size  int64
	mtime int64
}

func statStamp(path string) (fileStamp, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{size: info.Size(), mtime: info.ModTime().UnixNano()}, true
}

// Lookup returns the cached BackupMetadata for backupName if the
// current start.json/manifest.txt size+mtime still match what was
// cached. Any mismatch, missing row, or database error is reported as
// a cache miss (ok == false) — never as an error the caller must
// handle.
func (c *HistoryCache) Lookup(backupName, startPath, manifestPath string) (*BackupMetadata, bool) {
	if c == nil || c.db == nil {
		return nil, false
	}

	startStamp, ok := statStamp(startPath)
	if !ok {
		return nil, false
	}
	manifestStamp, ok := statStamp(manifestPath)
	if !ok {
		return nil, false
	}

	row := c.db.QueryRow(
		`SELECT start_size, start_mtime, manifest_size, manifest_mtime, source_path, start_time, manifest_blob
		 FROM history_cache WHERE backup_name = ?`, backupName)

	var ss, sm, ms, mm int64
	var sourcePath string
	var startTimeNano int64
	var blob []byte
	if err := row.Scan(&ss, &sm, &ms, &mm, &sourcePath, &startTimeNano, &blob); err != nil {
		return nil, false
	}

	if ss != startStamp.size || sm != startStamp.mtime || ms != manifestStamp.size || mm != manifestStamp.mtime {
		return nil, false
	}

	tree, err := ReadManifest(bytes.NewReader(blob))
	if err != nil {
		return nil, false
	}

	return &BackupMetadata{
		Name: backupName,
		Start: StartInfo{
			SourcePath: sourcePath,
			StartTime:  unixNanoToTime(startTimeNano),
		},
		Manifest: tree,
	}, true
}

// Store records meta's parsed form, keyed by the current
// size+mtime of its start.json/manifest.txt. Best-effort: a write
// failure is ignored, since the cache is purely an optimization.
func (c *HistoryCache) Store(backupName, startPath, manifestPath string, meta *BackupMetadata) {
	if c == nil || c.db == nil {
		return
	}

	startStamp, ok := statStamp(startPath)
	if !ok {
		return
	}
	manifestStamp, ok := statStamp(manifestPath)
	if !ok {
		return
	}

	blob, err := os.ReadFile(manifestPath)
	if err != nil {
		return
	}

	_, _ = c.db.Exec(
		`INSERT INTO history_cache (backup_name, start_size, start_mtime, manifest_size, manifest_mtime, source_path, start_time, manifest_blob)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(backup_name) DO UPDATE SET
		   start_size=excluded.start_size, start_mtime=excluded.start_mtime,
		   manifest_size=excluded.manifest_size, manifest_mtime=excluded.manifest_mtime,
		   source_path=excluded.source_path, start_time=excluded.start_time,
		   manifest_blob=excluded.manifest_blob`,
		backupName, startStamp.size, startStamp.mtime, manifestStamp.size, manifestStamp.mtime,
		meta.Start.SourcePath, meta.Start.StartTime.UnixNano(), blob,
	)
}
