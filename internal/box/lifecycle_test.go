//go:build linux

package box

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustbox/rustbox-go/internal/errs"
)

func newTestLifecycle(t *testing.T) *Lifecycle {
	t.Helper()
	root := t.TempDir()
	return New(filepath.Join(root, "locks"), filepath.Join(root, "boxes"))
}

func TestLifecycle_InitCreatesWorkdirAndRegistryEntry(t *testing.T) {
	lc := newTestLifecycle(t)
	require.NoError(t, os.MkdirAll(lc.LockRoot, 0o755))

	require.NoError(t, lc.Init("box-a", false))

	info, err := os.Stat(lc.workdir("box-a"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	meta, ok, err := lc.Registry.Get("box-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, meta.CgroupsEnabled)
}

func TestLifecycle_CleanupRemovesWorkdirAndRegistryEntry(t *testing.T) {
	lc := newTestLifecycle(t)
	require.NoError(t, os.MkdirAll(lc.LockRoot, 0o755))
	require.NoError(t, lc.Init("box-a", false))

	require.NoError(t, lc.Cleanup("box-a"))

	_, err := os.Stat(lc.workdir("box-a"))
	assert.True(t, os.IsNotExist(err))

	_, ok, err := lc.Registry.Get("box-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLifecycle_CleanupUninitializedBoxIsNoop(t *testing.T) {
	lc := newTestLifecycle(t)
	require.NoError(t, os.MkdirAll(lc.LockRoot, 0o755))
	assert.NoError(t, lc.Cleanup("never-existed"))
}

func TestLifecycle_RunAgainstUninitializedBoxFails(t *testing.T) {
	lc := newTestLifecycle(t)
	require.NoError(t, os.MkdirAll(lc.LockRoot, 0o755))

	_, err := lc.Run("box-a", nil, []string{"/bin/true"})
	require.Error(t, err)
	se, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.LockReasonNotInitialized, se.LockReason)
}

func TestDirSize_SumsFileBytesRecursively(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), make([]byte, 100), 0o644))
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b.txt"), make([]byte, 50), 0o644))

	size, err := dirSize(root)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), size)
}

func TestDirSize_EmptyDirIsZero(t *testing.T) {
	size, err := dirSize(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), size)
}
