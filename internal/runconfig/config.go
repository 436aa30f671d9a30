package runconfig

import (
	"fmt"
	"strings"

	"github.com/rustbox/rustbox-go/internal/fsisolate"
	"github.com/rustbox/rustbox-go/internal/nsisolate"
)

// StdinKind selects where a payload's stdin comes from.
type StdinKind int

const (
	StdinNone StdinKind = iota
	StdinInline
	StdinFile
)

// Stdin describes the configured stdin source for one invocation.
type Stdin struct {
	Kind   StdinKind
	Inline []byte
	Path   string
}

// OutputKind selects where a payload's stdout/stderr is captured.
type OutputKind int

const (
	OutputCapture OutputKind = iota // buffered in memory, capped
	OutputFile
)

// Output describes one of stdout/stderr's destination.
type Output struct {
	Kind OutputKind
	Path string
}

// NamespaceToggles selects which namespaces the proxy is created in,
// before any mount or chroot. Mirrors nsisolate.Toggles one-for-one.
type NamespaceToggles struct {
	PID, Mount, Net, User, UTS bool
}

// ToNsisolate converts to the syscall-facing toggle type the supervisor
// turns into clone flags and the proxy runs its namespace setup from.
func (t NamespaceToggles) ToNsisolate() nsisolate.Toggles {
	return nsisolate.Toggles{PID: t.PID, Mount: t.Mount, Net: t.Net, User: t.User, UTS: t.UTS}
}

// Config is the immutable Run Configuration for one box invocation.
type Config struct {
	// MemoryLimit in bytes; 0 means unenforced.
	MemoryLimit uint64
	// CPUTimeLimit in seconds; 0 means unenforced.
	CPUTimeLimit float64
	// WallTimeLimit in seconds; 0 means "default to 2x CPUTimeLimit",
	// resolved by Normalize.
	WallTimeLimit float64

	ProcessLimit  int
	FileSizeLimit uint64
	StackLimit    uint64
	CoreLimit     uint64
	FDLimit       uint64

	// DiskQuota in bytes; checked post-hoc against the workdir size, not
	// enforced live.
	DiskQuota uint64

	Environment        EnvVars
	DirectoryBindings  []fsisolate.Binding
	Namespaces         NamespaceToggles
	Hostname           string // only applied when Namespaces.UTS is set
	SeccompProfile     string // "anonymous" | "python" | "javascript" | "java"

	Stdin  Stdin
	Stdout Output
	Stderr Output

	// StrictMode: when true, a missing isolation primitive (cgroup
	// subsystem, namespace support, seccomp) is a fatal setup error
	// instead of a warning.
	StrictMode bool
}

// Normalize fills in defaults that depend on another field, namely
// WallTimeLimit defaulting to 2x CPUTimeLimit when unset.
func (c *Config) Normalize() {
	if c.WallTimeLimit == 0 && c.CPUTimeLimit > 0 {
		c.WallTimeLimit = 2 * c.CPUTimeLimit
	}
	if c.ProcessLimit == 0 {
		c.ProcessLimit = 1
	}
}

// Validate rejects configurations the rest of the engine can't act on.
func (c *Config) Validate() error {
	if c.ProcessLimit < 1 {
		return fmt.Errorf("runconfig: process_limit must be >= 1, got %d", c.ProcessLimit)
	}
	if c.CPUTimeLimit < 0 || c.WallTimeLimit < 0 {
		return fmt.Errorf("runconfig: time limits must be non-negative")
	}
	switch c.SeccompProfile {
	case "", "anonymous", "python", "javascript", "java":
	default:
		return fmt.Errorf("runconfig: unknown seccomp profile %q", c.SeccompProfile)
	}
	for _, b := range c.DirectoryBindings {
		if err := fsisolate.ValidateBinding(b); err != nil {
			return err
		}
	}
	return nil
}

// bindingOptions maps the grammar's option tokens onto a Binding mutation.
var bindingOptions = map[string]func(*fsisolate.Binding){
	"ro":     func(b *fsisolate.Binding) { b.Permissions = fsisolate.ReadOnly },
	"rw":     func(b *fsisolate.Binding) { b.Permissions = fsisolate.ReadWrite },
	"noexec": func(b *fsisolate.Binding) { b.Permissions = fsisolate.NoExec },
	"maybe":  func(b *fsisolate.Binding) { b.Maybe = true },
	"tmp":    func(b *fsisolate.Binding) { b.IsTmp = true },
}

// ParseBinding parses one directory-binding string of the form
// SRC[=DST][:OPT1,OPT2,...], options drawn from {ro, rw, noexec, maybe, tmp}.
// An unrecognized option is an error. DST defaults to SRC; permission
// defaults to ReadOnly when no ro/rw/noexec option is given.
func ParseBinding(s string) (fsisolate.Binding, error) {
	if s == "" {
		return fsisolate.Binding{}, fmt.Errorf("runconfig: empty directory binding")
	}

	rest := s
	var optPart string
	if i := strings.Index(rest, ":"); i >= 0 {
		rest, optPart = rest[:i], rest[i+1:]
	}

	src, dst := rest, rest
	if i := strings.Index(rest, "="); i >= 0 {
		src, dst = rest[:i], rest[i+1:]
	}
	if src == "" {
		return fsisolate.Binding{}, fmt.Errorf("runconfig: directory binding %q has empty source", s)
	}
	if dst == "" {
		dst = src
	}

	b := fsisolate.Binding{Source: src, Target: dst, Permissions: fsisolate.ReadOnly}
	if optPart != "" {
		for _, opt := range strings.Split(optPart, ",") {
			apply, ok := bindingOptions[opt]
			if !ok {
				return fsisolate.Binding{}, fmt.Errorf("runconfig: unknown binding option %q in %q", opt, s)
			}
			apply(&b)
		}
	}
	return b, nil
}

// FormatBinding renders b back into the SRC[=DST][:OPT1,OPT2,...] grammar,
// the inverse of ParseBinding for any Binding it could have produced.
func FormatBinding(b fsisolate.Binding) string {
	var sb strings.Builder
	sb.WriteString(b.Source)
	if b.Target != "" && b.Target != b.Source {
		sb.WriteString("=")
		sb.WriteString(b.Target)
	}

	var opts []string
	switch b.Permissions {
	case fsisolate.ReadWrite:
		opts = append(opts, "rw")
	case fsisolate.NoExec:
		opts = append(opts, "noexec")
	case fsisolate.ReadOnly:
		opts = append(opts, "ro")
	}
	if b.Maybe {
		opts = append(opts, "maybe")
	}
	if b.IsTmp {
		opts = append(opts, "tmp")
	}
	if len(opts) > 0 {
		sb.WriteString(":")
		sb.WriteString(strings.Join(opts, ","))
	}
	return sb.String()
}
