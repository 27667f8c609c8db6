// core/layout.go
package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/valyala/fastrand"
)

// Fixed filenames within a target directory and within each backup
// directory.
const (
	IndexFileName      = "index.txt"
	DataDirName        = "data"
	StartInfoFileName  = "start.json"
	ManifestFileName   = "manifest.txt"
	CompletionFileName = "completion.json"
	LogFileName        = "log.txt"

	backupNameLength = 16
	maxNameAttempts  = 20
)

const nameAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NameGenerator produces random backup-directory names. It is passed
// explicitly rather than reached for as a process-wide global so that
// callers can substitute their own source of names in tests.
type NameGenerator struct {
	rng *fastrand.RNG
}

// NewNameGenerator returns a generator seeded from a fresh fastrand.RNG.
// Names are not security-sensitive, only needing a low collision
// probability, so no cryptographic entropy source is required.
func NewNameGenerator() *NameGenerator {
	return &NameGenerator{rng: &fastrand.RNG{}}
}

// NameSource supplies candidate backup directory names. *NameGenerator
// is the production implementation; tests may substitute their own to
// exercise CreateBackupDir's collision-retry path deterministically.
type NameSource interface {
	Next() string
}

// Next returns one candidate 16-character alphanumeric name.
func (g *NameGenerator) Next() string {
	buf := make([]byte, backupNameLength)
	for i := range buf {
		buf[i] = nameAlphabet[g.rng.Uint32n(uint32(len(nameAlphabet)))]
	}
	return string(buf)
}

// Layout composes the fixed paths within one target directory.
type Layout struct {
	Target string
}

func NewLayout(target string) Layout { return Layout{Target: target} }

// IndexPath is <target>/index.txt.
func (l Layout) IndexPath() string { return filepath.Join(l.Target, IndexFileName) }

// BackupDir is <target>/<name>.
func (l Layout) BackupDir(name string) string { return filepath.Join(l.Target, name) }

// DataDir is <target>/<name>/data.
func (l Layout) DataDir(name string) string { return filepath.Join(l.BackupDir(name), DataDirName) }

// StartInfoPath is <target>/<name>/start.json.
func (l Layout) StartInfoPath(name string) string {
	return filepath.Join(l.BackupDir(name), StartInfoFileName)
}

// ManifestPath is <target>/<name>/manifest.txt.
func (l Layout) ManifestPath(name string) string {
	return filepath.Join(l.BackupDir(name), ManifestFileName)
}

// CompletionInfoPath is <target>/<name>/completion.json.
func (l Layout) CompletionInfoPath(name string) string {
	return filepath.Join(l.BackupDir(name), CompletionFileName)
}

// LogPath is <target>/<name>/log.txt.
func (l Layout) LogPath(name string) string {
	return filepath.Join(l.BackupDir(name), LogFileName)
}

// CreateBackupDir picks a random, unused 16-character name under
// target, creates <target>/<name>/data, and returns the chosen name. It
// retries up to maxNameAttempts times on collision (a file or directory
// of that name already exists) or any other filesystem error; on final
// failure it surfaces the last error together with every name it tried.
// Creation is non-atomic and best-effort.
func (l Layout) CreateBackupDir(gen NameSource) (string, error) {
	if err := os.MkdirAll(l.Target, 0755); err != nil {
		return "", ClassifyFSError(l.Target, err)
	}

	tried := make([]string, 0, maxNameAttempts)
	var lastErr error

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := gen.Next()
		tried = append(tried, name)

		dir := l.BackupDir(name)
		if _, statErr := os.Lstat(dir); statErr == nil {
			lastErr = fmt.Errorf("name %s already exists", name)
			continue
		} else if !os.IsNotExist(statErr) {
			lastErr = ClassifyFSError(dir, statErr)
			continue
		}

		if err := os.MkdirAll(l.DataDir(name), 0755); err != nil {
			lastErr = ClassifyFSError(l.DataDir(name), err)
			continue
		}
		return name, nil
	}

	return "", fmt.Errorf("failed to allocate a backup directory after %d attempts (tried %v): %w",
		maxNameAttempts, tried, lastErr)
}
