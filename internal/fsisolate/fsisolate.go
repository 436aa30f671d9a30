//go:build linux

// Package fsisolate builds the chroot skeleton, applies the recursive
// noexec/nosuid/nodev self bind-mount, validates and mounts user directory
// bindings, and performs the chroot syscall itself — spec §4.3.
package fsisolate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Permission describes how a directory binding is exposed inside the box.
type Permission int

const (
	ReadOnly Permission = iota
	ReadWrite
	NoExec
)

// Binding is one entry of Run Configuration's directory_bindings list.
type Binding struct {
	Source      string
	Target      string
	Permissions Permission
	Maybe       bool // ignore if Source doesn't exist
	IsTmp       bool // create as an empty tmpfs-backed directory instead of a bind mount
}

// skeletonDirs are created empty, mode 0755, under chroot_root.
var skeletonDirs = []string{"tmp", "dev", "proc", "usr/bin", "bin", "lib", "lib64", "etc"}

// blockedPrefixes can never be the resolved source of a user directory
// binding; they hold host secrets or would let the payload reshape the
// host's view of itself.
var blockedPrefixes = []string{
	"/etc", "/root", "/home", "/proc", "/sys", "/dev", "/var/log", "/var/lib",
	"/boot", "/usr/bin", "/usr/sbin", "/sbin", "/lib", "/usr/lib", "/usr/include",
	"/opt", "/run",
}

// Isolator owns the chroot_root directory tree for one box and performs
// its lifecycle: BuildSkeleton -> MountBinding* -> ApplyChroot, torn down
// by Cleanup in reverse.
type Isolator struct {
	Root   string
	mounts []string // targets mounted under Root, unmounted in reverse on Cleanup
	selfBound bool
}

func New(root string) *Isolator {
	return &Isolator{Root: root}
}

// BuildSkeleton creates the empty directory skeleton, device nodes, and
// applies the recursive self bind-mount with NOEXEC|NOSUID|NODEV.
func (iso *Isolator) BuildSkeleton() error {
	if iso.Root == "" {
		return errors.New("fsisolate: empty chroot root")
	}
	if err := os.MkdirAll(iso.Root, 0o755); err != nil {
		return fmt.Errorf("fsisolate: mkdir chroot root: %w", err)
	}
	for _, d := range skeletonDirs {
		if err := os.MkdirAll(filepath.Join(iso.Root, d), 0o755); err != nil {
			return fmt.Errorf("fsisolate: mkdir %s: %w", d, err)
		}
	}
	if err := createDeviceNodes(iso.Root); err != nil {
		return err
	}
	if err := chmodTmp(iso.Root); err != nil {
		return fmt.Errorf("fsisolate: chmod tmp: %w", err)
	}

	// Recursive bind-mount of chroot_root onto itself, so the whole subtree
	// inherits NOEXEC|NOSUID|NODEV regardless of what gets bind-mounted into
	// it afterward.
	flags := uintptr(unix.MS_BIND | unix.MS_REC)
	if err := unix.Mount(iso.Root, iso.Root, "", flags, ""); err != nil {
		return fmt.Errorf("fsisolate: self bind-mount: %w", err)
	}
	iso.selfBound = true
	remountFlags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_REC |
		unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV)
	if err := unix.Mount("", iso.Root, "", remountFlags, ""); err != nil {
		return fmt.Errorf("fsisolate: remount self bind noexec/nosuid/nodev: %w", err)
	}

	return nil
}

// ValidatePath rejects traversal attempts and any path that resolves under
// a blocked prefix. It must run before a binding's source is ever touched.
func ValidatePath(path string) (string, error) {
	if strings.Contains(path, "..") || strings.Contains(path, "~") {
		return "", fmt.Errorf("fsisolate: path traversal rejected: %q", path)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("fsisolate: source does not exist: %q", path)
		}
		return "", fmt.Errorf("fsisolate: resolve %q: %w", path, err)
	}
	for _, p := range blockedPrefixes {
		if resolved == p || strings.HasPrefix(resolved, p+"/") {
			return "", fmt.Errorf("fsisolate: path %q resolves under blocked prefix %q", path, p)
		}
	}
	return resolved, nil
}

// ValidateBinding resolves and rejects a user directory binding's source
// before it is ever touched by a mount call. It must run before any
// process is spawned for the run, not just before MountBinding. A missing
// source is only tolerated when b.Maybe is set; traversal, blocked-prefix,
// and symlink rejections apply unconditionally.
func ValidateBinding(b Binding) error {
	if b.IsTmp {
		return nil
	}
	if strings.Contains(b.Source, "..") || strings.Contains(b.Source, "~") {
		return fmt.Errorf("fsisolate: path traversal rejected: %q", b.Source)
	}

	fi, statErr := os.Lstat(b.Source)
	if statErr != nil {
		if b.Maybe {
			return nil
		}
		return fmt.Errorf("fsisolate: binding source %q: %w", b.Source, statErr)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("fsisolate: binding source %q is a symlink", b.Source)
	}

	if _, err := ValidatePath(b.Source); err != nil {
		return err
	}
	return nil
}

// MountBinding resolves, validates, and bind-mounts one user directory
// binding into the chroot skeleton. Absent sources are rejected unless
// Maybe is set, in which case they're silently skipped; symlinked sources
// are always rejected.
func (iso *Isolator) MountBinding(b Binding) error {
	if b.IsTmp {
		return iso.mountTmpBinding(b)
	}

	if err := ValidateBinding(b); err != nil {
		return err
	}
	fi, statErr := os.Lstat(b.Source)
	if statErr != nil {
		// ValidateBinding already tolerated a missing Maybe source.
		return nil
	}

	resolved, err := filepath.EvalSymlinks(b.Source)
	if err != nil {
		return fmt.Errorf("fsisolate: resolve %q: %w", b.Source, err)
	}

	target := filepath.Join(iso.Root, b.Target)
	if fi.IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("fsisolate: mkdir target %s: %w", target, err)
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE, 0o644)
		if err != nil {
			return fmt.Errorf("fsisolate: create bind target %s: %w", target, err)
		}
		_ = f.Close()
	}

	flags := uintptr(unix.MS_BIND | unix.MS_REC)
	if err := unix.Mount(resolved, target, "", flags, ""); err != nil {
		return fmt.Errorf("fsisolate: bind-mount %s -> %s: %w", resolved, target, err)
	}
	iso.mounts = append(iso.mounts, target)

	remountFlags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_REC | unix.MS_NOSUID | unix.MS_NODEV)
	switch b.Permissions {
	case ReadOnly:
		remountFlags |= unix.MS_RDONLY
	case NoExec:
		remountFlags |= unix.MS_NOEXEC
	case ReadWrite:
		// no extra restriction beyond the inherited noexec/nosuid/nodev
		// self bind-mount, unless explicitly requested otherwise.
	}
	if err := unix.Mount("", target, "", remountFlags, ""); err != nil {
		return fmt.Errorf("fsisolate: remount binding %s: %w", target, err)
	}

	return nil
}

func (iso *Isolator) mountTmpBinding(b Binding) error {
	target := filepath.Join(iso.Root, b.Target)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	if err := unix.Mount("tmpfs", target, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, "mode=0755"); err != nil {
		return fmt.Errorf("fsisolate: mount tmp binding %s: %w", target, err)
	}
	iso.mounts = append(iso.mounts, target)
	return nil
}

// ApplyChroot executes chroot(2) into Root and chdir("/"). Runs in the
// Proxy process after every bind mount has been applied; the Inside
// process inherits the new root.
func (iso *Isolator) ApplyChroot() error {
	if err := unix.Chroot(iso.Root); err != nil {
		return fmt.Errorf("fsisolate: chroot(%s): %w", iso.Root, err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("fsisolate: chdir /: %w", err)
	}
	return nil
}

// Cleanup unmounts every binding mount (reverse order) and the chroot's
// self bind-mount. Errors from an unmount of something never mounted are
// ignored; safe to call multiple times.
func (iso *Isolator) Cleanup() error {
	var first error
	for i := len(iso.mounts) - 1; i >= 0; i-- {
		if err := unix.Unmount(iso.mounts[i], unix.MNT_DETACH); err != nil && !errors.Is(err, unix.EINVAL) && first == nil {
			first = fmt.Errorf("fsisolate: unmount %s: %w", iso.mounts[i], err)
		}
	}
	iso.mounts = nil
	if iso.selfBound {
		if err := unix.Unmount(iso.Root, unix.MNT_DETACH); err != nil && !errors.Is(err, unix.EINVAL) && first == nil {
			first = fmt.Errorf("fsisolate: unmount chroot root %s: %w", iso.Root, err)
		}
		iso.selfBound = false
	}
	return first
}
