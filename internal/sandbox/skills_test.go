package sandbox

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveGlobalSkillMountsFindsDistinctTargetDirs(t *testing.T) {
	root := t.TempDir()
	targetA := filepath.Join(root, "repo-a", "skill")
	targetB := filepath.Join(root, "repo-b", "skill")
	require.NoError(t, os.MkdirAll(targetA, 0o755))
	require.NoError(t, os.MkdirAll(targetB, 0o755))

	skillsDir := filepath.Join(root, "skills")
	require.NoError(t, os.MkdirAll(skillsDir, 0o755))
	require.NoError(t, os.Symlink(targetA, filepath.Join(skillsDir, "one")))
	require.NoError(t, os.Symlink(targetB, filepath.Join(skillsDir, "two")))

	log := zerolog.Nop()
	mounts := resolveGlobalSkillMounts(skillsDir, log)
	sort.Strings(mounts)

	wantA, _ := filepath.EvalSymlinks(filepath.Dir(targetA))
	wantB, _ := filepath.EvalSymlinks(filepath.Dir(targetB))
	want := []string{wantA, wantB}
	sort.Strings(want)
	assert.Equal(t, want, mounts)
}

func TestResolveGlobalSkillMountsIsIdempotent(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "repo", "skill")
	require.NoError(t, os.MkdirAll(target, 0o755))

	skillsDir := filepath.Join(root, "skills")
	require.NoError(t, os.MkdirAll(skillsDir, 0o755))
	require.NoError(t, os.Symlink(target, filepath.Join(skillsDir, "one")))

	log := zerolog.Nop()
	first := resolveGlobalSkillMounts(skillsDir, log)
	second := resolveGlobalSkillMounts(skillsDir, log)
	assert.Equal(t, first, second)
}

func TestResolveGlobalSkillMountsSkipsStaleSymlink(t *testing.T) {
	root := t.TempDir()
	skillsDir := filepath.Join(root, "skills")
	require.NoError(t, os.MkdirAll(skillsDir, 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "does-not-exist"), filepath.Join(skillsDir, "stale")))

	log := zerolog.Nop()
	mounts := resolveGlobalSkillMounts(skillsDir, log)
	assert.Empty(t, mounts)
}
