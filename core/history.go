// core/history.go
package core

import (
	"fmt"
	"log"
	"os"
)

func errInconsistentSource(backupName string) error {
	return fmt.Errorf("backup %s: start.json source disagrees with index.txt source", backupName)
}

func openManifestFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ClassifyFSError(path, err)
	}
	return f, nil
}

// BackupMetadata is the triple produced by reading a single prior
// backup: its directory name, its start info, and its parsed manifest
// tree.
type BackupMetadata struct {
	Name     string
	Start    StartInfo
	Manifest *Directory
}

// LoadHistory reads every backup in layout's target whose index entry
// matches source, tolerating unreadable or inconsistent entries by
// skipping them with a warning rather than aborting the run. A single
// bad prior backup must never prevent a new one from being taken.
//
// If cache is non-nil it is consulted (and populated) to avoid
// re-parsing start.json/manifest.txt for backups already seen in a
// previous run — see core/historycache.go.
func LoadHistory(layout Layout, idx *Index, source string, cache *HistoryCache) []BackupMetadata {
	matches := idx.MatchingSource(source)
	out := make([]BackupMetadata, 0, len(matches))

	for _, entry := range matches {
		meta, err := loadOneBackup(layout, entry, cache)
		if err != nil {
			log.Printf("warning: skipping backup %s: %v", entry.BackupName, err)
			continue
		}
		if meta == nil {
			continue
		}
		out = append(out, *meta)
	}

	if len(matches) > 0 && len(out) == 0 {
		// Every index entry for source existed but none of them could be
		// loaded — distinct from the ordinary first-backup case, where
		// there were no matching entries to begin with.
		log.Printf("warning: %v", ErrNoParentManifest)
	}

	return out
}

func loadOneBackup(layout Layout, entry IndexEntry, cache *HistoryCache) (*BackupMetadata, error) {
	startPath := layout.StartInfoPath(entry.BackupName)
	manifestPath := layout.ManifestPath(entry.BackupName)

	if cache != nil {
		if meta, ok := cache.Lookup(entry.BackupName, startPath, manifestPath); ok {
			return meta, nil
		}
	}

	start, err := ReadStartInfo(startPath)
	if err != nil {
		return nil, err
	}

	// Warn (not abort) when the backup's own recorded source disagrees
	// with what the index says about it — an inconsistency, not a
	// run-abort condition.
	if !PathEqual(start.SourcePath, entry.SourcePath) {
		return nil, errInconsistentSource(entry.BackupName)
	}

	manifestFile, err := openManifestFile(manifestPath)
	if err != nil {
		return nil, err
	}
	defer manifestFile.Close()

	tree, err := ReadManifest(manifestFile)
	if err != nil {
		return nil, err
	}

	meta := &BackupMetadata{Name: entry.BackupName, Start: *start, Manifest: tree}

	if cache != nil {
		cache.Store(entry.BackupName, startPath, manifestPath, meta)
	}

	return meta, nil
}
