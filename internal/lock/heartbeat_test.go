//go:build linux

package lock

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeat_WritesFileImmediately(t *testing.T) {
	root := t.TempDir()
	hb := StartHeartbeat(root, "box-a")
	defer hb.Stop()

	_, err := os.Stat(heartbeatPath(root, "box-a"))
	assert.NoError(t, err)
}

func TestHeartbeat_StopRemovesFile(t *testing.T) {
	root := t.TempDir()
	hb := StartHeartbeat(root, "box-a")
	hb.Stop()

	_, err := os.Stat(heartbeatPath(root, "box-a"))
	assert.True(t, os.IsNotExist(err))
}

func TestHeartbeat_StopIsIdempotent(t *testing.T) {
	root := t.TempDir()
	hb := StartHeartbeat(root, "box-a")
	hb.Stop()
	assert.NotPanics(t, func() { hb.Stop() })
}

func TestHeartbeatStale_AbsentIsNotStale(t *testing.T) {
	root := t.TempDir()
	assert.False(t, heartbeatStale(root, "box-missing"))
}

func TestHeartbeatStale_FreshIsNotStale(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(heartbeatPath(root, "box-a"), []byte("123"), 0o600))
	assert.False(t, heartbeatStale(root, "box-a"))
}

func TestHeartbeatStale_OldIsStale(t *testing.T) {
	root := t.TempDir()
	path := heartbeatPath(root, "box-a")
	require.NoError(t, os.WriteFile(path, []byte("123"), 0o600))
	old := time.Now().Add(-StaleTimeout - time.Second)
	require.NoError(t, os.Chtimes(path, old, old))
	assert.True(t, heartbeatStale(root, "box-a"))
}
