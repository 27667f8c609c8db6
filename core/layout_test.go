package core

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNameGeneratorProducesFixedShapeNames(t *testing.T) {
	gen := NewNameGenerator()
	pattern := regexp.MustCompile(`^[A-Za-z0-9]{16}$`)
	for i := 0; i < 50; i++ {
		name := gen.Next()
		require.Regexp(t, pattern, name)
	}
}

func TestCreateBackupDirCreatesDataSubdir(t *testing.T) {
	target := t.TempDir()
	layout := NewLayout(target)
	gen := NewNameGenerator()

	name, err := layout.CreateBackupDir(gen)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9]{16}$`), name)

	info, err := os.Stat(layout.DataDir(name))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestCreateBackupDirRetriesOnCollision(t *testing.T) {
	target := t.TempDir()
	layout := NewLayout(target)

	// A generator that always returns the same name for its first call,
	// then falls back to a real one, exercises the retry path.
	const collided = "CCCCCCCCCCCCCCCC"
	require.NoError(t, os.MkdirAll(layout.BackupDir(collided), 0755))

	gen := &stuckThenRealGenerator{stuck: collided, real: NewNameGenerator(), repeats: 1}
	name, err := layout.CreateBackupDir(gen)
	require.NoError(t, err)
	require.NotEqual(t, collided, name)
}

type stuckThenRealGenerator struct {
	stuck   string
	real    *NameGenerator
	repeats int
	calls   int
}

func (g *stuckThenRealGenerator) Next() string {
	g.calls++
	if g.calls <= g.repeats {
		return g.stuck
	}
	return g.real.Next()
}

func TestCreateBackupDirExhaustsAttempts(t *testing.T) {
	target := t.TempDir()
	layout := NewLayout(target)

	const stuck = "DDDDDDDDDDDDDDDD"
	require.NoError(t, os.MkdirAll(layout.BackupDir(stuck), 0755))

	gen := &stuckThenRealGenerator{stuck: stuck, repeats: maxNameAttempts}
	_, err := layout.CreateBackupDir(gen)
	require.Error(t, err)
}

func TestLayoutPaths(t *testing.T) {
	layout := NewLayout("/target")
	require.Equal(t, filepath.Join("/target", "index.txt"), layout.IndexPath())
	require.Equal(t, filepath.Join("/target", "N", "data"), layout.DataDir("N"))
	require.Equal(t, filepath.Join("/target", "N", "start.json"), layout.StartInfoPath("N"))
	require.Equal(t, filepath.Join("/target", "N", "manifest.txt"), layout.ManifestPath("N"))
	require.Equal(t, filepath.Join("/target", "N", "completion.json"), layout.CompletionInfoPath("N"))
}
