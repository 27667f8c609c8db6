// core/sum.go
package core

import (
	"sort"
	"time"
)

// SumFile is a per-file existence+provenance record in the backup sum.
// Only the start time of the backup that last copied the file is kept;
// the back-reference to the owning BackupMetadata is dropped entirely
// in favor of storing the one field ever read from it.
type SumFile struct {
	Name            string
	LastBackupName  string
	LastBackupStart time.Time
}

// SumDirectory is a directory node of the backup sum tree. Subdirectories
// and files are each unique by case-insensitive name.
type SumDirectory struct {
	Name  string
	Dirs  []*SumDirectory
	Files []*SumFile
}

func newSumDirectory(name string) *SumDirectory {
	return &SumDirectory{Name: name}
}

func (d *SumDirectory) dirIndex(name string) int {
	for i, c := range d.Dirs {
		if PathEqual(c.Name, name) {
			return i
		}
	}
	return -1
}

func (d *SumDirectory) fileIndex(name string) int {
	for i, f := range d.Files {
		if PathEqual(f.Name, name) {
			return i
		}
	}
	return -1
}

func (d *SumDirectory) childDir(name string) *SumDirectory {
	if i := d.dirIndex(name); i >= 0 {
		return d.Dirs[i]
	}
	return nil
}

func (d *SumDirectory) file(name string) *SumFile {
	if i := d.fileIndex(name); i >= 0 {
		return d.Files[i]
	}
	return nil
}

func (d *SumDirectory) removeDir(name string) {
	if i := d.dirIndex(name); i >= 0 {
		d.Dirs = append(d.Dirs[:i], d.Dirs[i+1:]...)
	}
}

func (d *SumDirectory) removeFile(name string) {
	if i := d.fileIndex(name); i >= 0 {
		d.Files = append(d.Files[:i], d.Files[i+1:]...)
	}
}

// BuildSum folds an ordered-by-start-time sequence of prior backups
// into one cumulative tree. The fold is deterministic given the ordered
// inputs; no file content is inspected.
func BuildSum(metas []BackupMetadata) *SumDirectory {
	sorted := make([]BackupMetadata, len(metas))
	copy(sorted, metas)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.StartTime.Before(sorted[j].Start.StartTime)
	})

	root := newSumDirectory("")
	for _, meta := range sorted {
		if meta.Manifest == nil {
			continue
		}
		foldDirectory(root, meta.Manifest, meta.Name, meta.Start.StartTime)
	}
	return root
}

// foldDirectory applies one manifest directory's records (and
// recursively its subdirectories) onto the corresponding sum node.
func foldDirectory(sumNode *SumDirectory, manifestNode *Directory, backupName string, startTime time.Time) {
	for _, name := range manifestNode.Files {
		if existing := sumNode.file(name); existing != nil {
			existing.LastBackupName = backupName
			existing.LastBackupStart = startTime
		} else {
			sumNode.Files = append(sumNode.Files, &SumFile{
				Name:            name,
				LastBackupName:  backupName,
				LastBackupStart: startTime,
			})
		}
	}

	for _, name := range manifestNode.RemovedFiles {
		sumNode.removeFile(name)
	}

	for _, name := range manifestNode.RemovedDirs {
		sumNode.removeDir(name)
	}

	for _, childManifest := range manifestNode.Dirs {
		childSum := sumNode.childDir(childManifest.Name)
		if childSum == nil {
			childSum = newSumDirectory(childManifest.Name)
			sumNode.Dirs = append(sumNode.Dirs, childSum)
		}
		foldDirectory(childSum, childManifest, backupName, startTime)
	}
}

// FindDirectory walks the sum case-insensitively along pathComponents,
// returning the subtree or nil if any component is absent.
func (d *SumDirectory) FindDirectory(pathComponents []string) *SumDirectory {
	node := d
	for _, c := range pathComponents {
		node = node.childDir(c)
		if node == nil {
			return nil
		}
	}
	return node
}

// ShouldCopy decides whether a file needs copying: unconditionally if
// the sum has no record of it, otherwise iff the file's modification
// time is at or after the start time of the backup that last copied it.
// The inequality is inclusive so a file modified within the same second
// as a prior backup is conservatively re-copied.
func ShouldCopy(node *SumDirectory, fileName string, modTimeUTC time.Time) bool {
	if node == nil {
		return true
	}
	entry := node.file(fileName)
	if entry == nil {
		return true
	}
	return !modTimeUTC.Before(entry.LastBackupStart)
}
