//go:build linux

// Package lock implements the box lock protocol: single-writer advisory
// locking of a box_id across unrelated processes and users, orphan
// detection that prefers repair over deletion, and an optional heartbeat
// variant for processes that may hang without releasing the lock.
package lock

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rustbox/rustbox-go/internal/errs"
	"golang.org/x/sys/unix"
)

var errShortRecord = errors.New("lock: record shorter than 24 bytes")

const (
	backoffBase = 10 * time.Millisecond
	backoffCap  = 500 * time.Millisecond
)

// Lock is a held advisory lock on one box_id's lock file.
type Lock struct {
	file   *os.File
	boxID  string
	record Record
}

// Acquire opens the lock file for boxID under lockRoot, acquires the
// exclusive advisory flock with exponential backoff up to timeout, and
// resolves the binary record per spec §4.6 steps 3-6. create must be true
// only for init acquisitions; a non-init acquisition against a file that
// doesn't exist yet fails with NotInitialized.
func Acquire(lockRoot, boxID string, create bool, cgEnabled bool, timeout time.Duration) (*Lock, error) {
	path := lockFilePath(lockRoot, boxID)

	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Lock(errs.LockReasonNotInitialized, "box %s has not been initialized", boxID)
		}
		return nil, errs.Wrap(errs.KindLock, err, "open lock file %s", path)
	}

	if err := flockWithBackoff(f, boxID, timeout); err != nil {
		_ = f.Close()
		return nil, err
	}

	rec, err := readOrInitRecord(f, create, cgEnabled)
	if err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return nil, err
	}

	if err := checkOwnership(rec); err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return nil, err
	}

	rec.HolderPID = uint32(os.Getpid())
	rec.AcquiredAt = uint64(time.Now().Unix())
	if create {
		rec.Initialized = true
		rec.OwnerUID = uint32(os.Geteuid())
	}
	rec.CgEnabled = cgEnabled

	if err := writeRecord(f, rec); err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, boxID: boxID, record: rec}, nil
}

// flockWithBackoff retries a non-blocking LOCK_EX with exponential
// backoff and jitter until it succeeds or timeout elapses.
func flockWithBackoff(f *os.File, boxID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	delay := backoffBase
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != unix.EWOULDBLOCK {
			return errs.Wrap(errs.KindLock, err, "flock")
		}
		if time.Now().After(deadline) {
			if pid, ok := readHolderPID(f); ok {
				return errs.Lock(errs.LockReasonBusy, "Box %s is currently in use by pid %d", boxID, pid)
			}
			return errs.Lock(errs.LockReasonTimeout, "timed out waiting for lock")
		}
		jitter := time.Duration(rand.Int63n(int64(delay) / 2))
		time.Sleep(delay + jitter)
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

func readHolderPID(f *os.File) (uint32, bool) {
	buf := make([]byte, recordSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return 0, false
	}
	rec, err := UnmarshalRecord(buf)
	if err != nil || rec.HolderPID == 0 {
		return 0, false
	}
	return rec.HolderPID, true
}

// readOrInitRecord implements steps 3-4 of the acquire algorithm: read the
// existing record, write a fresh one on a short read during init, reject a
// bad magic as Corrupted, and reclaim an orphaned record in place.
func readOrInitRecord(f *os.File, create bool, cgEnabled bool) (Record, error) {
	buf := make([]byte, recordSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n == 0 {
		if create {
			return freshRecord(uint32(os.Geteuid()), cgEnabled), nil
		}
		return Record{}, errs.Lock(errs.LockReasonCorrupted, "lock file is empty")
	}

	rec, uerr := UnmarshalRecord(buf[:n])
	if uerr != nil {
		if create {
			return freshRecord(uint32(os.Geteuid()), cgEnabled), nil
		}
		return Record{}, errs.Lock(errs.LockReasonCorrupted, "lock file shorter than a record")
	}
	if rec.Magic != recordMagic {
		return Record{}, errs.Lock(errs.LockReasonCorrupted, "bad magic 0x%x", rec.Magic)
	}

	if rec.HolderPID != 0 && !processAlive(int(rec.HolderPID)) {
		rec.HolderPID = 0
	}

	return rec, nil
}

// processAlive distinguishes "alive but owned by someone else" (EPERM)
// from "dead" (ESRCH) via a signal-0 probe, falling back to /proc
// presence when the probe itself is inconclusive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	switch {
	case err == nil, errors.Is(err, unix.EPERM):
		return true
	case errors.Is(err, unix.ESRCH):
		return false
	}
	_, statErr := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return statErr == nil
}

// checkOwnership enforces step 5: an initialized record's owner_uid must
// match the caller unless the caller is root.
func checkOwnership(rec Record) error {
	if !rec.Initialized {
		return nil
	}
	euid := os.Geteuid()
	if euid == 0 || rec.OwnerUID == uint32(euid) {
		return nil
	}
	ownerName := lookupUsername(rec.OwnerUID)
	callerName := lookupUsername(uint32(euid))
	return errs.Lock(errs.LockReasonPermissionDenied,
		"box is owned by %s, caller is %s", ownerName, callerName)
}

func lookupUsername(uid uint32) string {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return fmt.Sprintf("uid %d", uid)
	}
	return u.Username
}

func writeRecord(f *os.File, rec Record) error {
	if _, err := f.WriteAt(rec.MarshalBinary(), 0); err != nil {
		return errs.Wrap(errs.KindLock, err, "write lock record")
	}
	return f.Sync()
}

// Release truncates the lock file (never unlinks it, to avoid racing a
// concurrent creator), releases the advisory flock, and closes the
// descriptor. Idempotent: calling Release twice is a safe no-op the
// second time.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Truncate(0)
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	cerr := l.file.Close()
	l.file = nil
	if err != nil {
		return errs.Wrap(errs.KindLock, err, "truncate lock file on release")
	}
	return cerr
}

// Record returns the in-memory copy of the record as last written by
// Acquire.
func (l *Lock) Record() Record { return l.record }

func lockFilePath(lockRoot, boxID string) string {
	return filepath.Join(lockRoot, boxID)
}
