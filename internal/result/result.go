// Package result defines the Execution Result the engine produces once
// per run, and its JSON wire shape for the command line's stdout output.
package result

import "encoding/json"

// Status is the canonical verdict taxonomy.
type Status string

const (
	Success           Status = "Success"
	TimeLimit         Status = "TimeLimit"
	MemoryLimit       Status = "MemoryLimit"
	ProcessLimit      Status = "ProcessLimit"
	FileSizeLimit     Status = "FileSizeLimit"
	StackLimit        Status = "StackLimit"
	CoreLimit         Status = "CoreLimit"
	DiskQuotaExceeded Status = "DiskQuotaExceeded"
	SecurityViolation Status = "SecurityViolation"
	InternalError     Status = "InternalError"
	RuntimeError      Status = "RuntimeError"
	Signaled          Status = "Signaled"
)

// legacyAliases maps a canonical Status to the back-compat string judging
// systems expect in the JSON "status" field instead of the canonical name.
var legacyAliases = map[Status]string{
	TimeLimit:   "TLE",
	MemoryLimit: "Memory Limit Exceeded",
}

// wireStatus returns the string a Status serializes as: its legacy alias
// if one is registered, otherwise the canonical name unchanged.
func wireStatus(s Status) string {
	if alias, ok := legacyAliases[s]; ok {
		return alias
	}
	return string(s)
}

// ExecutionResult is produced once per run by the supervisor. Afterward
// only box.Lifecycle.Run's disk-quota override and execute-code's
// Language/SeccompProfileVersion stamping change it.
type ExecutionResult struct {
	Status       Status
	ExitCode     *int
	Stdout       string
	Stderr       string
	WallTime     float64
	CPUTime      float64
	MemoryPeak   uint64 // bytes
	Signal       *int
	Success      bool
	ErrorMessage string
	Language     string // empty unless produced by execute-code

	// SeccompProfileVersion records which revision of the language's
	// syscall allow-list produced this result, since the exact set
	// drifts across interpreter/JVM versions.
	SeccompProfileVersion string
}

// wireResult is the JSON shape described in spec §6: stable field names
// and a memory_peak_kb unit conversion that predates this Go port.
type wireResult struct {
	Status        string `json:"status"`
	ExitCode      *int   `json:"exit_code"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	WallTime      float64 `json:"wall_time"`
	CPUTime       float64 `json:"cpu_time"`
	MemoryPeakKB  uint64  `json:"memory_peak_kb"`
	Success       bool    `json:"success"`
	Signal        *int    `json:"signal"`
	ErrorMessage  *string `json:"error_message"`
	Language      string  `json:"language,omitempty"`
	SeccompProfileVersion string `json:"seccomp_profile_version,omitempty"`
}

// MarshalJSON renders r using the stable wire shape, including the legacy
// status aliases judging systems rely on instead of the Go enum name.
func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	w := wireResult{
		Status:       wireStatus(r.Status),
		ExitCode:     r.ExitCode,
		Stdout:       r.Stdout,
		Stderr:       r.Stderr,
		WallTime:     r.WallTime,
		CPUTime:      r.CPUTime,
		MemoryPeakKB: r.MemoryPeak / 1024,
		Success:      r.Success,
		Signal:       r.Signal,
		Language:     r.Language,
		SeccompProfileVersion: r.SeccompProfileVersion,
	}
	if r.ErrorMessage != "" {
		w.ErrorMessage = &r.ErrorMessage
	}
	return json.MarshalIndent(w, "", "  ")
}
