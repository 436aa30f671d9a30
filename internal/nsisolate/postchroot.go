//go:build linux

package nsisolate

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MountProc mounts a read-only, noexec/nosuid/nodev procfs at /proc,
// relative to whatever the current root is. Must run after ApplyChroot so
// it reflects the Inside process's own PID namespace rather than the
// host's, and after the self bind-mount so /proc isn't clobbered by it.
func MountProc(strict bool) error {
	if err := unix.Mount("proc", "/proc", "proc",
		unix.MS_NOSUID|unix.MS_NOEXEC|unix.MS_NODEV, ""); err != nil {
		if strict {
			return fmt.Errorf("namespace: mount /proc: %w", err)
		}
		return nil
	}
	return unix.Mount("", "/proc", "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY|
		unix.MS_NOSUID|unix.MS_NOEXEC|unix.MS_NODEV, "")
}

// MountTmpfs mounts a size-bounded tmpfs over the chroot skeleton's /tmp.
func MountTmpfs(sizeBytes uint64, strict bool) error {
	opts := fmt.Sprintf("mode=1777,size=%d", sizeBytes)
	if err := unix.Mount("tmpfs", "/tmp", "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, opts); err != nil {
		if strict {
			return fmt.Errorf("namespace: mount tmpfs /tmp: %w", err)
		}
	}
	return nil
}
