//go:build linux

// Package nsisolate computes the clone flags for the PID/mount/network/
// user/UTS namespaces a run's process is created in, and performs the
// post-unshare setup spec.md §4.4 requires: a private recursive root,
// hostname and loopback bring-up (Apply), and a locked-down /proc and a
// size-bounded /tmp (MountProc, MountTmpfs).
package nsisolate

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Toggles selects which namespaces the Inside process should unshare into.
// Each toggle is independent: a caller wanting host networking but an
// isolated mount namespace sets Net=false, Mount=true.
type Toggles struct {
	PID   bool
	Mount bool
	Net   bool
	User  bool
	UTS   bool
}

// CloneFlags returns the unix.CLONE_NEW* flags corresponding to the
// requested toggles, for use with unix.Unshare or a clone3 call.
func (t Toggles) CloneFlags() uintptr {
	var flags uintptr
	if t.PID {
		flags |= unix.CLONE_NEWPID
	}
	if t.Mount {
		flags |= unix.CLONE_NEWNS
	}
	if t.Net {
		flags |= unix.CLONE_NEWNET
	}
	if t.User {
		flags |= unix.CLONE_NEWUSER
	}
	if t.UTS {
		flags |= unix.CLONE_NEWUTS
	}
	return flags
}

// Apply performs the per-namespace setup spec.md §4.4 requires once the
// process is already running inside the requested namespace subset. The
// namespaces themselves are created by the supervisor at process-creation
// time via SysProcAttr.Cloneflags, not here: unsharing a namespace the
// process was already cloned into (CLONE_NEWUSER in particular) fails and
// would be redundant even when it doesn't. Apply must run before
// chroot/pivot and before rlimits are applied. strict controls whether a
// missing primitive is fatal. hostname is only applied when UTS is set; an
// empty hostname leaves the inherited one untouched.
func Apply(t Toggles, hostname string, strict bool) error {
	// Making the root private and recursive must happen before the
	// Filesystem Isolator performs any bind mount, so that none of those
	// mount events propagate back to the host mount namespace.
	if t.Mount {
		if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
			if strict {
				return fmt.Errorf("namespace: remount / private: %w", err)
			}
		}
	}

	if t.UTS && hostname != "" {
		if err := unix.Sethostname([]byte(hostname)); err != nil {
			if strict {
				return fmt.Errorf("namespace: sethostname: %w", err)
			}
		}
	}

	if t.Net {
		if err := BringUpLoopback(strict); err != nil {
			return err
		}
	}

	return nil
}
