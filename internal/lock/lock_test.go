//go:build linux

package lock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/rustbox/rustbox-go/internal/errs"
)

func TestAcquire_InitCreatesRecord(t *testing.T) {
	root := t.TempDir()

	l, err := Acquire(root, "box-a", true, true, time.Second)
	require.NoError(t, err)
	defer l.Release()

	rec := l.Record()
	assert.True(t, rec.Initialized)
	assert.True(t, rec.CgEnabled)
	assert.Equal(t, uint32(os.Geteuid()), rec.OwnerUID)
	assert.Equal(t, uint32(os.Getpid()), rec.HolderPID)
}

func TestAcquire_NonInitAgainstMissingFileFails(t *testing.T) {
	root := t.TempDir()

	_, err := Acquire(root, "box-missing", false, false, time.Second)
	require.Error(t, err)
	se, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.LockReasonNotInitialized, se.LockReason)
}

func TestAcquire_ReacquireAfterReleaseSucceeds(t *testing.T) {
	root := t.TempDir()

	l, err := Acquire(root, "box-a", true, false, time.Second)
	require.NoError(t, err)
	require.NoError(t, l.Release())

	l2, err := Acquire(root, "box-a", false, false, time.Second)
	require.NoError(t, err)
	defer l2.Release()
	assert.True(t, l2.Record().Initialized)
}

func TestAcquire_BusyTimesOutWhileHeld(t *testing.T) {
	root := t.TempDir()

	l, err := Acquire(root, "box-a", true, false, time.Second)
	require.NoError(t, err)
	defer l.Release()

	_, err = Acquire(root, "box-a", false, false, 50*time.Millisecond)
	require.Error(t, err)
	se, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.LockReasonBusy, se.LockReason)
}

func TestAcquire_RejectsOtherOwner(t *testing.T) {
	root := t.TempDir()

	l, err := Acquire(root, "box-a", true, false, time.Second)
	require.NoError(t, err)

	rec := l.Record()
	rec.OwnerUID = rec.OwnerUID + 1
	path := lockFilePath(root, "box-a")
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	require.NoError(t, err)
	require.NoError(t, writeRecord(f, rec))
	require.NoError(t, f.Close())
	require.NoError(t, l.Release())

	if os.Geteuid() == 0 {
		t.Skip("ownership check is bypassed for root")
	}

	_, err = Acquire(root, "box-a", false, false, time.Second)
	require.Error(t, err)
	se, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.LockReasonPermissionDenied, se.LockReason)
}

func TestAcquire_ReclaimsRecordFromDeadHolder(t *testing.T) {
	root := t.TempDir()

	l, err := Acquire(root, "box-a", true, false, time.Second)
	require.NoError(t, err)
	rec := l.Record()
	rec.HolderPID = 999999 // very unlikely to be a live pid
	require.NoError(t, writeRecord(l.file, rec))
	// A dead holder never calls Release: closing the descriptor frees the
	// flock and leaves the record in place, as a killed process would.
	require.NoError(t, l.file.Close())

	l2, err := Acquire(root, "box-a", false, false, time.Second)
	require.NoError(t, err)
	defer l2.Release()
	assert.Equal(t, uint32(os.Getpid()), l2.Record().HolderPID)
}

func TestRelease_IdempotentAndTruncates(t *testing.T) {
	root := t.TempDir()

	l, err := Acquire(root, "box-a", true, false, time.Second)
	require.NoError(t, err)
	require.NoError(t, l.Release())
	assert.NoError(t, l.Release())

	info, err := os.Stat(lockFilePath(root, "box-a"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestProcessAlive_SelfIsAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
}

func TestProcessAlive_UnlikelyPidIsDead(t *testing.T) {
	assert.False(t, processAlive(999999))
}

func TestLockFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/var/lib/rustbox/locks", "box-a"), lockFilePath("/var/lib/rustbox/locks", "box-a"))
}

func TestFlockWithBackoff_SucceedsImmediatelyWhenFree(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "lockfile")
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, flockWithBackoff(f, "box-a", time.Second))
	assert.NoError(t, unix.Flock(int(f.Fd()), unix.LOCK_UN))
}
