//go:build linux

// Package rlimit applies the Inside process's setrlimit pairs immediately
// before exec. Ordering matters: memory is set before CPU so an OOM
// pre-empts a time-based kill, and NPROC is set last since some kernels
// refuse it from within an already-constrained context.
package rlimit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Limits mirrors the Run Configuration's resource-limit fields. A zero
// value for any field means "no limit" and is skipped.
type Limits struct {
	AddressSpace uint64 // bytes
	CPUSeconds   uint64
	Stack        uint64 // bytes
	Core         uint64 // bytes
	FileSize     uint64 // bytes
	NOFILE       uint64
	NPROC        uint64
}

// Apply sets each configured limit as soft == hard. In strict mode any
// failure is fatal; otherwise it's the caller's responsibility to log a
// warning and continue.
func Apply(l Limits, strict bool) error {
	type step struct {
		name     string
		resource int
		value    uint64
	}
	// Memory before CPU, NPROC last — see package doc.
	steps := []step{
		{"AS", unix.RLIMIT_AS, l.AddressSpace},
		{"CPU", unix.RLIMIT_CPU, l.CPUSeconds},
		{"STACK", unix.RLIMIT_STACK, l.Stack},
		{"CORE", unix.RLIMIT_CORE, l.Core},
		{"FSIZE", unix.RLIMIT_FSIZE, l.FileSize},
		{"NOFILE", unix.RLIMIT_NOFILE, l.NOFILE},
		{"NPROC", unix.RLIMIT_NPROC, l.NPROC},
	}

	for _, s := range steps {
		if s.value == 0 {
			continue
		}
		rl := unix.Rlimit{Cur: s.value, Max: s.value}
		if err := unix.Setrlimit(s.resource, &rl); err != nil {
			if strict {
				return fmt.Errorf("rlimit: setrlimit(%s, %d): %w", s.name, s.value, err)
			}
		}
	}
	return nil
}
