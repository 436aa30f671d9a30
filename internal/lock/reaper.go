//go:build linux

package lock

import (
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ReapInterval is how often a Reaper sweeps the lock root.
const ReapInterval = 30 * time.Second

// Reaper periodically scans lockRoot and reclaims entries whose owning
// process is dead or whose heartbeat has gone stale, system-wide cleanup
// that runs independently of any single box's acquire path.
type Reaper struct {
	lockRoot string
	stop     chan struct{}
}

// NewReaper returns a Reaper bound to lockRoot; call Run to start sweeping.
func NewReaper(lockRoot string) *Reaper {
	return &Reaper{lockRoot: lockRoot, stop: make(chan struct{})}
}

// Run sweeps lockRoot every ReapInterval until Stop is called. Intended to
// run as a long-lived goroutine, one per rustbox host process.
func (r *Reaper) Run() {
	ticker := time.NewTicker(ReapInterval)
	defer ticker.Stop()
	r.sweep()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

func (r *Reaper) Stop() { close(r.stop) }

func (r *Reaper) sweep() {
	entries, err := os.ReadDir(r.lockRoot)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".heartbeat") || e.IsDir() {
			continue
		}
		r.reapOne(name)
	}
}

// reapOne inspects and, if warranted, reclaims a single box's lock
// without disturbing a lock currently held by a live, responsive process.
func (r *Reaper) reapOne(boxID string) {
	path := lockFilePath(r.lockRoot, boxID)
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return
	}
	defer f.Close()

	// Non-blocking: skip anything currently held rather than contend
	// with an active acquirer. The flock itself is the source of truth;
	// a process that died while the kernel still shows LOCK_EX held is
	// not this reaper's problem to solve.
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	buf := make([]byte, recordSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		return
	}
	rec, err := UnmarshalRecord(buf[:n])
	if err != nil || rec.Magic != recordMagic || rec.HolderPID == 0 {
		return
	}

	dead := !processAlive(int(rec.HolderPID))
	stale := heartbeatStale(r.lockRoot, boxID)
	if dead || stale {
		rec.HolderPID = 0
		_ = writeRecord(f, rec)
		if stale {
			_ = os.Remove(heartbeatPath(r.lockRoot, boxID))
		}
	}
}
