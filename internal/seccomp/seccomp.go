//go:build linux

// Package seccomp installs the syscall allow-list filter for the Inside
// process. Default action is KILL_PROCESS: anything not explicitly on the
// profile's allow-list kills the payload with SIGSYS rather than returning
// an error code, since a payload that can detect and route around a
// failing syscall can't be trusted to respect ENOSYS either.
package seccomp

import (
	"fmt"

	libseccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

// Profile names a language-specific allow-list extension on top of the
// anonymous baseline.
type Profile string

const (
	ProfileAnonymous  Profile = "anonymous"
	ProfilePython     Profile = "python"
	ProfileJavaScript Profile = "javascript"
	ProfileJava       Profile = "java"
)

// baselineSyscalls is the anonymous profile: process termination, memory
// management, non-mutating file I/O and metadata, clock and sleep, signal
// return, and basic identity/resource inquiries. Every other profile
// extends this list; none of them remove from it.
var baselineSyscalls = []string{
	// process termination and exec
	"exit", "exit_group", "execve",

	// memory management
	"mmap", "munmap", "mprotect", "brk",

	// non-mutating file I/O and metadata
	"read", "pread64", "readv", "preadv", "write", "writev", "pwrite64",
	"lseek", "close", "openat", "open", "fstat", "stat", "access", "faccessat",

	// clock and sleep
	"clock_gettime", "gettimeofday", "nanosleep", "clock_nanosleep", "clock_getres",

	// signal return
	"rt_sigreturn", "rt_sigaction", "rt_sigprocmask", "sigaltstack",

	// identity and resource inquiries
	"getpid", "gettid", "getuid", "geteuid", "getgid", "getegid",
	"getppid", "getrlimit", "getrandom", "uname", "arch_prctl",
	"set_tid_address", "set_robust_list", "rseq", "restart_syscall",
	"prlimit64",
}

// languageExtras extends the baseline per spec-named language profile.
var languageExtras = map[Profile][]string{
	ProfilePython: {
		"lstat", "newfstatat", "readlink", "readlinkat",
		"getcwd", "chdir", "fchdir",
		"pipe", "pipe2", "dup", "dup2", "dup3",
	},
	ProfileJavaScript: {
		"futex", "sched_yield", "eventfd2",
		"epoll_create", "epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait",
		"poll", "ppoll", "select", "pselect6",
	},
	ProfileJava: {
		"clone", "futex", "sched_yield", "sched_getparam", "sched_getaffinity",
		"prctl", "madvise",
	},
}

// forbiddenSyscalls are never added to any profile regardless of caller
// request. Checked defensively in Build so a typo'd extension list can
// never smuggle one of these in.
var forbiddenSyscalls = map[string]struct{}{
	"socket": {}, "connect": {}, "bind": {}, "listen": {}, "accept": {}, "accept4": {},
	"sendmsg": {}, "sendto": {}, "recvmsg": {}, "recvfrom": {},
	"fork": {}, "vfork": {},
	"mount": {}, "umount": {}, "umount2": {}, "pivot_root": {},
	"mkdir": {}, "mkdirat": {}, "rmdir": {}, "unlink": {}, "unlinkat": {},
	"rename": {}, "renameat": {}, "renameat2": {}, "chmod": {}, "fchmod": {}, "chown": {}, "fchown": {},
	"setuid": {}, "setgid": {}, "setresuid": {}, "setresgid": {}, "capset": {},
	"sethostname": {}, "setdomainname": {},
	"ptrace": {}, "process_vm_readv": {}, "process_vm_writev": {},
	"create_module": {}, "init_module": {}, "finit_module": {}, "delete_module": {},
	"reboot": {}, "ioctl": {}, "mknod": {}, "mknodat": {},
}

// Opts configures filter construction for one Inside process.
type Opts struct {
	Profile Profile
	Strict  bool
}

// resolve returns the full allow-list for a profile, baseline plus
// extension, rejecting any name that appears in forbiddenSyscalls.
func resolve(p Profile) ([]string, error) {
	names := append([]string{}, baselineSyscalls...)
	names = append(names, languageExtras[p]...)
	for _, n := range names {
		if _, bad := forbiddenSyscalls[n]; bad {
			return nil, fmt.Errorf("seccomp: profile %q names forbidden syscall %q", p, n)
		}
	}
	return names, nil
}

// Install builds and loads the KILL_PROCESS/allow-list filter for opts.Profile.
// Must run after chroot and privilege drop, immediately before exec — the
// allow-list includes execve itself so the payload's own exec is permitted
// without widening the filter that runs after it.
func Install(opts Opts) error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil && err != unix.EINVAL {
		return fmt.Errorf("seccomp: prctl(NO_NEW_PRIVS): %w", err)
	}

	names, err := resolve(opts.Profile)
	if err != nil {
		return err
	}

	filter, err := libseccomp.NewFilter(libseccomp.ActKillProcess)
	if err != nil {
		return fmt.Errorf("seccomp: new filter: %w", err)
	}
	defer filter.Release()

	allowAct := libseccomp.ActAllow
	for _, name := range names {
		sc, err := libseccomp.GetSyscallFromName(name)
		if err != nil {
			// not implemented on this architecture; nothing to allow
			continue
		}
		if err := filter.AddRule(sc, allowAct); err != nil {
			return fmt.Errorf("seccomp: add rule %s: %w", name, err)
		}
	}

	if err := filter.Load(); err != nil {
		return fmt.Errorf("seccomp: load: %w", err)
	}
	return nil
}

// Supported reports whether the running kernel exposes seccomp-bpf mode 2.
// When false, Install callers must honor strict_mode per spec: fatal in
// strict mode, a loud warning otherwise.
func Supported() bool {
	api, err := libseccomp.GetApi()
	return err == nil && api >= 2
}
