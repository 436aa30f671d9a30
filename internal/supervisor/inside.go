//go:build linux

package supervisor

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rustbox/rustbox-go/internal/capabilities"
	"github.com/rustbox/rustbox-go/internal/seccomp"
	"golang.org/x/sys/unix"
)

// ReexecInsideArg is the hidden argv[1] the rustbox binary recognizes to
// run as the Inside process instead of the CLI.
const ReexecInsideArg = "__rustbox_inside"

// insideConfigEnv carries the Proxy's already-validated ProxyConfig to
// Inside as JSON, since Inside is a fresh exec and shares no Go state
// with its parent.
const insideConfigEnv = "RUSTBOX_INSIDE_CONFIG"

// RunInside is cmd/rustbox/main.go's entry point when argv[1] ==
// ReexecInsideArg. On success it never returns: exec replaces this
// process image with the payload. Any return from this function is
// itself a setup failure, reported on stderr since Inside has no error
// pipe of its own — setup failures here are rare (everything that can
// fail cheaply already failed in the Proxy) and are surfaced to the
// Keeper as the Inside process's own non-zero exit status.
func RunInside() {
	raw := os.Getenv(insideConfigEnv)
	var cfg ProxyConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "inside: parse config: %v\n", err)
		os.Exit(1)
	}

	priv := &capabilities.Opts{UID: cfg.UID, GID: cfg.GID}
	if err := priv.Apply(); err != nil {
		fmt.Fprintf(os.Stderr, "inside: drop privileges: %v\n", err)
		os.Exit(1)
	}

	if !seccomp.Supported() {
		if cfg.StrictMode {
			fmt.Fprintln(os.Stderr, "inside: seccomp unsupported by kernel, strict_mode requires it")
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "inside: WARNING seccomp unsupported by kernel, continuing without a syscall filter")
	} else {
		profile := seccomp.Profile(cfg.SeccompProfile)
		if err := seccomp.Install(seccomp.Opts{Profile: profile, Strict: cfg.StrictMode}); err != nil {
			fmt.Fprintf(os.Stderr, "inside: install seccomp: %v\n", err)
			os.Exit(1)
		}
	}

	if len(cfg.Command) == 0 {
		fmt.Fprintln(os.Stderr, "inside: empty command")
		os.Exit(1)
	}

	err := unix.Exec(cfg.Command[0], cfg.Command, cfg.Env)
	fmt.Fprintf(os.Stderr, "inside: exec %s: %v\n", cfg.Command[0], err)
	os.Exit(127)
}
