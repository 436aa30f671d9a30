//go:build linux

// Package depcheck implements the check-deps command: it probes the host
// for every isolation primitive the engine can use, without requiring
// root or mutating anything.
package depcheck

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vishvananda/netns"

	"github.com/rustbox/rustbox-go/internal/seccomp"
)

// Check is one probed dependency's result.
type Check struct {
	Name    string
	OK      bool
	Detail  string
	Missing bool
}

// requiredCgroupSubsystems mirrors internal/cgroup's fixed subsystem set.
var requiredCgroupSubsystems = []string{"memory", "cpu", "cpuacct", "pids"}

// Run probes every primitive rustbox depends on and returns one Check per
// primitive. It never fails outright: a missing primitive is reported as
// a Check with Missing=true, not a returned error.
func Run() []Check {
	var checks []Check

	for _, s := range requiredCgroupSubsystems {
		dir := filepath.Join("/sys/fs/cgroup", s)
		if _, err := os.Stat(dir); err == nil {
			checks = append(checks, Check{Name: "cgroup:" + s, OK: true, Detail: dir})
		} else {
			checks = append(checks, Check{Name: "cgroup:" + s, Missing: true, Detail: err.Error()})
		}
	}

	if seccomp.Supported() {
		checks = append(checks, Check{Name: "seccomp", OK: true, Detail: "seccomp-bpf mode 2 available"})
	} else {
		checks = append(checks, Check{Name: "seccomp", Missing: true, Detail: "kernel does not support seccomp-bpf filters"})
	}

	checks = append(checks, probeNamespace("pid_namespaces", "/proc/sys/kernel/ns_last_pid"))
	checks = append(checks, probeUserNS())
	checks = append(checks, probeNetNS())

	return checks
}

func probeNamespace(name, probePath string) Check {
	if _, err := os.Stat(probePath); err == nil {
		return Check{Name: name, OK: true, Detail: probePath}
	}
	return Check{Name: name, Missing: true, Detail: fmt.Sprintf("%s not present", probePath)}
}

// probeNetNS opens a handle to the calling thread's own network namespace,
// the same primitive the Inside process's loopback bring-up relies on.
func probeNetNS() Check {
	h, err := netns.Get()
	if err != nil {
		return Check{Name: "net_namespaces", Missing: true, Detail: err.Error()}
	}
	defer h.Close()
	return Check{Name: "net_namespaces", OK: true, Detail: "/proc/self/ns/net"}
}

func probeUserNS() Check {
	const path = "/proc/sys/user/max_user_namespaces"
	b, err := os.ReadFile(path)
	if err != nil {
		return Check{Name: "user_namespaces", Missing: true, Detail: err.Error()}
	}
	if string(b) == "0\n" {
		return Check{Name: "user_namespaces", Missing: true, Detail: "max_user_namespaces is 0"}
	}
	return Check{Name: "user_namespaces", OK: true, Detail: path}
}

// AllOK reports whether every check succeeded.
func AllOK(checks []Check) bool {
	for _, c := range checks {
		if c.Missing {
			return false
		}
	}
	return true
}
