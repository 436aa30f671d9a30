// Package verdict maps the raw signals a supervised run produces — a
// proxy setup error, a limit breach the supervisor detected live, a
// kernel-delivered signal, or a plain exit code — onto the canonical
// result.Status taxonomy. Precedence is fixed: setup error first, then
// live limit breach, then disk quota, then signal, then exit code.
package verdict

import (
	"strings"

	"github.com/rustbox/rustbox-go/internal/result"
	"golang.org/x/sys/unix"
)

// LimitBreach names a limit the supervisor detected while the child was
// still running, independent of how the child was eventually killed.
type LimitBreach int

const (
	BreachNone LimitBreach = iota
	BreachTime
	BreachMemory
	BreachProcess
	BreachFileSize
	BreachStack
	BreachCore
)

// Input collects everything the assembler needs to classify one run.
type Input struct {
	// SetupError is non-empty when the proxy reported a failure over the
	// error pipe before the payload ever ran.
	SetupError string

	// Breach is the limit the supervisor's own polling detected, if any.
	Breach LimitBreach

	// ExitCode and Signal describe how the child actually terminated;
	// exactly one of them is meaningful, matching unix.WaitStatus.
	Exited   bool
	ExitCode int
	Signaled bool
	Signal   unix.Signal

	// MemoryPressureObserved is true when the supervisor's last resource
	// sample was at or above the configured memory limit before the kill
	// signal was sent, used to attribute a bare SIGKILL to MemoryLimit.
	MemoryPressureObserved bool

	// DiskQuotaExceeded overrides the signal and exit-code outcomes (a
	// setup error or a live breach still wins): the workdir size check
	// runs after the child has already exited.
	DiskQuotaExceeded bool
}

// securityKeywords flags a setup error message as a security violation
// rather than a generic internal error, per spec §4.9 rule 1.
var securityKeywords = []string{"seccomp", "chroot", "capability", "privilege"}

func mentionsSecurity(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range securityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Assemble classifies in into a canonical Status, in the precedence order
// spec §4.9 defines: setup error, then live breach, then disk quota
// override, then signal, then exit code.
func Assemble(in Input) result.Status {
	if in.SetupError != "" {
		if mentionsSecurity(in.SetupError) {
			return result.SecurityViolation
		}
		return result.InternalError
	}

	switch in.Breach {
	case BreachTime:
		return result.TimeLimit
	case BreachMemory:
		return result.MemoryLimit
	case BreachProcess:
		return result.ProcessLimit
	case BreachFileSize:
		return result.FileSizeLimit
	case BreachStack:
		return result.StackLimit
	case BreachCore:
		return result.CoreLimit
	}

	// Disk quota is checked after exit regardless of how the child
	// terminated, and overrides whatever status the exit path produced.
	if in.DiskQuotaExceeded {
		return result.DiskQuotaExceeded
	}

	if in.Signaled {
		switch in.Signal {
		case unix.SIGKILL:
			if in.MemoryPressureObserved {
				return result.MemoryLimit
			}
			return result.Signaled
		case unix.SIGXCPU:
			return result.TimeLimit
		case unix.SIGXFSZ:
			return result.FileSizeLimit
		case unix.SIGSYS:
			return result.SecurityViolation
		default:
			return result.Signaled
		}
	}

	if in.Exited {
		if in.ExitCode == 0 {
			return result.Success
		}
		return result.RuntimeError
	}

	return result.InternalError
}
