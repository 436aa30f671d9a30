//go:build linux

package lock

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaper_ReclaimsLockFromDeadHolder(t *testing.T) {
	root := t.TempDir()

	l, err := Acquire(root, "box-a", true, false, time.Second)
	require.NoError(t, err)
	rec := l.Record()
	rec.HolderPID = 999999
	require.NoError(t, writeRecord(l.file, rec))
	// A dead holder never calls Release: closing the descriptor frees the
	// flock and leaves the record in place, as a killed process would.
	require.NoError(t, l.file.Close())

	r := NewReaper(root)
	r.reapOne("box-a")

	f, err := os.Open(lockFilePath(root, "box-a"))
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, recordSize)
	n, _ := f.ReadAt(buf, 0)
	got, err := UnmarshalRecord(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint32(0), got.HolderPID)
}

func TestReaper_LeavesLiveHolderAlone(t *testing.T) {
	root := t.TempDir()

	l, err := Acquire(root, "box-a", true, false, time.Second)
	require.NoError(t, err)
	defer l.Release()

	r := NewReaper(root)
	r.reapOne("box-a")

	buf := make([]byte, recordSize)
	n, _ := l.file.ReadAt(buf, 0)
	got, err := UnmarshalRecord(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint32(os.Getpid()), got.HolderPID)
}

func TestReaper_SkipsCurrentlyLockedFile(t *testing.T) {
	root := t.TempDir()

	l, err := Acquire(root, "box-a", true, false, time.Second)
	require.NoError(t, err)
	defer l.Release()

	rec := l.Record()
	before := rec.HolderPID

	r := NewReaper(root)
	r.reapOne("box-a") // flock is held by l; reapOne must skip it

	assert.Equal(t, before, l.Record().HolderPID)
}

func TestReaper_SweepIgnoresHeartbeatAndDirEntries(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(root+"/ghost.heartbeat", []byte("1"), 0o600))
	require.NoError(t, os.Mkdir(root+"/subdir", 0o755))

	r := NewReaper(root)
	assert.NotPanics(t, func() { r.sweep() })
}

func TestReaper_StopEndsRun(t *testing.T) {
	root := t.TempDir()
	r := NewReaper(root)
	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()
	r.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
