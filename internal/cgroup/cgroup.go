//go:build linux

// Package cgroup drives the cgroup-v1 subsystems (memory, cpu, cpuacct,
// pids) rustbox uses to enforce and measure resource consumption of a box.
// One Group is created per run, named after the box, and torn down when the
// run finishes — mirroring the scoped-resource pattern the rest of the
// isolation pipeline uses (acquire in fixed order, release in reverse).
package cgroup

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const cgroupRoot = "/sys/fs/cgroup"

// subsystems is the fixed set of cgroup-v1 controllers rustbox cares about.
var subsystems = []string{"memory", "cpu", "cpuacct", "pids"}

// Group is a handle to a box's cgroup-v1 subtree, one directory per
// available subsystem. Operations on an unavailable subsystem are no-ops.
type Group struct {
	name      string
	strict    bool
	available map[string]string // subsystem -> directory path
}

// New creates one directory per available cgroup-v1 subsystem under
// /sys/fs/cgroup/<ctrl>/<name>. When strict is true, any of
// {memory, cpu, cpuacct, pids} missing from the host is a fatal error;
// otherwise the missing subset is silently excluded and every later
// operation on it becomes a no-op.
func New(name string, strict bool) (*Group, error) {
	g := &Group{name: name, strict: strict, available: map[string]string{}}

	enabled := enabledControllers()
	var missing []string
	for _, s := range subsystems {
		if !enabled[s] {
			missing = append(missing, s)
			continue
		}
		dir := filepath.Join(cgroupRoot, s, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			if strict {
				return nil, fmt.Errorf("cgroup: mkdir %s: %w", dir, err)
			}
			continue
		}
		g.available[s] = dir
	}

	if strict && len(missing) > 0 {
		return nil, fmt.Errorf("cgroup: required controllers unavailable: %s", strings.Join(missing, ", "))
	}

	return g, nil
}

// Open reconstructs a handle to an already-created group by name, for the
// cleanup path: it never creates directories, only records which of the
// subsystem directories actually exist so Cleanup can remove them.
func Open(name string) (*Group, error) {
	g := &Group{name: name, available: map[string]string{}}
	for _, s := range subsystems {
		dir := filepath.Join(cgroupRoot, s, name)
		if _, err := os.Stat(dir); err == nil {
			g.available[s] = dir
		}
	}
	if len(g.available) == 0 {
		return nil, fmt.Errorf("cgroup: no subsystem directories found for %q", name)
	}
	return g, nil
}

// enabledControllers reads the process-wide list of mounted cgroup-v1
// controllers from /proc/cgroups (column 1 = name, column 4 = enabled).
func enabledControllers() map[string]bool {
	out := map[string]bool{}
	f, err := os.Open("/proc/cgroups")
	if err != nil {
		return out
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		if fields[3] == "1" {
			if _, err := os.Stat(filepath.Join(cgroupRoot, fields[0])); err == nil {
				out[fields[0]] = true
			}
		}
	}
	return out
}

func (g *Group) has(subsystem string) (string, bool) {
	dir, ok := g.available[subsystem]
	return dir, ok
}

func (g *Group) write(subsystem, file, value string) error {
	dir, ok := g.has(subsystem)
	if !ok {
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, file), []byte(value), 0o644); err != nil {
		if g.strict {
			return fmt.Errorf("cgroup: write %s/%s: %w", subsystem, file, err)
		}
	}
	return nil
}

// SetMemoryLimit writes memory.limit_in_bytes and mirrors the same value to
// memory.memsw.limit_in_bytes when present, so the payload cannot escape
// the memory cap by swapping.
func (g *Group) SetMemoryLimit(bytesLimit uint64) error {
	if bytesLimit == 0 {
		return nil
	}
	if err := g.write("memory", "memory.limit_in_bytes", strconv.FormatUint(bytesLimit, 10)); err != nil {
		return err
	}
	if dir, ok := g.has("memory"); ok {
		if _, err := os.Stat(filepath.Join(dir, "memory.memsw.limit_in_bytes")); err == nil {
			_ = g.write("memory", "memory.memsw.limit_in_bytes", strconv.FormatUint(bytesLimit, 10))
		}
	}
	return nil
}

// SetCPUShares writes cpu.shares for relative CPU weighting. The cpuacct
// subtree is created in New alongside cpu whenever that controller is
// available, so usage accounting does not depend on a share weight being
// requested.
func (g *Group) SetCPUShares(weight uint64) error {
	if weight == 0 {
		return nil
	}
	return g.write("cpu", "cpu.shares", strconv.FormatUint(weight, 10))
}

// SetProcessLimit writes pids.max.
func (g *Group) SetProcessLimit(n int) error {
	if n <= 0 {
		return nil
	}
	return g.write("pids", "pids.max", strconv.Itoa(n))
}

// Attach writes pid to the tasks file of every available subsystem.
// Per-subsystem failures are returned to the caller, which treats them as
// fatal in strict mode and logs them otherwise.
func (g *Group) Attach(pid int) []error {
	var errs []error
	for _, s := range subsystems {
		dir, ok := g.has(s)
		if !ok {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, "tasks"), []byte(strconv.Itoa(pid)), 0o644); err != nil {
			errs = append(errs, fmt.Errorf("cgroup: attach pid %d to %s: %w", pid, s, err))
		}
	}
	return errs
}

// PeakMemoryBytes reads memory.max_usage_in_bytes. Returns 0 if the
// subsystem is unavailable or the read fails (never fatal; nothing is
// logged).
func (g *Group) PeakMemoryBytes() uint64 {
	return g.readUint("memory", "memory.max_usage_in_bytes")
}

// CPUTimeSeconds returns accumulated CPU time for the group, preferring
// cpuacct.usage (nanoseconds) for precision, falling back to
// cpuacct.stat's user+system tick sum divided by USER_HZ.
func (g *Group) CPUTimeSeconds() float64 {
	if dir, ok := g.has("cpuacct"); ok {
		if ns := g.readUint("cpuacct", "cpuacct.usage"); ns > 0 {
			return float64(ns) / 1e9
		}
		if b, err := os.ReadFile(filepath.Join(dir, "cpuacct.stat")); err == nil {
			user, sys := parseCpuacctStat(b)
			const userHZ = 100
			return float64(user+sys) / userHZ
		}
	}
	return 0
}

func parseCpuacctStat(b []byte) (user, sys uint64) {
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			continue
		}
		v, _ := strconv.ParseUint(fields[1], 10, 64)
		switch fields[0] {
		case "user":
			user = v
		case "system":
			sys = v
		}
	}
	return
}

func (g *Group) readUint(subsystem, file string) uint64 {
	dir, ok := g.has(subsystem)
	if !ok {
		return 0
	}
	b, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return 0
	}
	v, _ := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	return v
}

// Kill terminates every task in the group, preferring the atomic
// cgroup.kill knob (Linux 5.14+) and falling back to signaling every pid
// listed in the first available subsystem's tasks file.
func (g *Group) Kill() {
	for _, s := range []string{"pids", "memory", "cpu", "cpuacct"} {
		dir, ok := g.has(s)
		if !ok {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, "cgroup.kill"), []byte("1"), 0o644); err == nil {
			return
		}
		if b, err := os.ReadFile(filepath.Join(dir, "tasks")); err == nil {
			for _, f := range bytes.Fields(b) {
				if pid, err := strconv.Atoi(string(f)); err == nil {
					_ = syscall.Kill(pid, syscall.SIGKILL)
				}
			}
		}
		return
	}
}

// Cleanup removes every subsystem directory created by New. Safe to call
// multiple times; missing directories are not an error.
func (g *Group) Cleanup() error {
	var first error
	for _, dir := range g.available {
		if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) && first == nil {
			first = fmt.Errorf("cgroup: remove %s: %w", dir, err)
		}
	}
	return first
}
