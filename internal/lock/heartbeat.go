//go:build linux

package lock

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// HeartbeatInterval is how often a held lock rewrites its sibling
// .heartbeat file.
const HeartbeatInterval = time.Second

// StaleTimeout defines abandonment for a lock whose owning process still
// exists in /proc (a hung process that never releases the lock) but whose
// heartbeat has gone silent.
const StaleTimeout = 10 * time.Second

// Heartbeat periodically rewrites a lock's sibling .heartbeat file with
// the current monotonic-ish timestamp, so Reaper can detect a lock whose
// holder is alive but wedged.
type Heartbeat struct {
	path   string
	stop   chan struct{}
	once   sync.Once
	ticker *time.Ticker
}

func heartbeatPath(lockRoot, boxID string) string {
	return lockFilePath(lockRoot, boxID) + ".heartbeat"
}

// StartHeartbeat begins writing heartbeats for boxID's lock every
// HeartbeatInterval. Call Stop to end it before releasing the lock.
func StartHeartbeat(lockRoot, boxID string) *Heartbeat {
	hb := &Heartbeat{
		path:   heartbeatPath(lockRoot, boxID),
		stop:   make(chan struct{}),
		ticker: time.NewTicker(HeartbeatInterval),
	}
	hb.beat()
	go hb.loop()
	return hb
}

func (hb *Heartbeat) loop() {
	for {
		select {
		case <-hb.ticker.C:
			hb.beat()
		case <-hb.stop:
			return
		}
	}
}

func (hb *Heartbeat) beat() {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	_ = os.WriteFile(hb.path, []byte(now), 0o600)
}

// Stop ends the heartbeat goroutine and removes the .heartbeat file.
func (hb *Heartbeat) Stop() {
	hb.once.Do(func() {
		hb.ticker.Stop()
		close(hb.stop)
		_ = os.Remove(hb.path)
	})
}

// heartbeatStale reports whether boxID's heartbeat file is older than
// StaleTimeout. An absent file is never stale (a lock never using the
// heartbeat variant is never considered stale by this check alone).
func heartbeatStale(lockRoot, boxID string) bool {
	info, err := os.Stat(heartbeatPath(lockRoot, boxID))
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > StaleTimeout
}
