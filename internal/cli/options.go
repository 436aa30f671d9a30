//go:build linux

// Package cli builds the urfave/cli/v3 command tree the rustbox binary
// dispatches to: init, run, execute-code, cleanup, check-deps.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goombaio/namegenerator"
	"github.com/google/uuid"
	"github.com/inhies/go-bytesize"
	"github.com/urfave/cli/v3"

	"github.com/rustbox/rustbox-go/internal/box"
	"github.com/rustbox/rustbox-go/internal/depcheck"
	"github.com/rustbox/rustbox-go/internal/errs"
	"github.com/rustbox/rustbox-go/internal/fsisolate"
	"github.com/rustbox/rustbox-go/internal/langprofile"
	"github.com/rustbox/rustbox-go/internal/logger"
	"github.com/rustbox/rustbox-go/internal/result"
	"github.com/rustbox/rustbox-go/internal/runconfig"
	"github.com/rustbox/rustbox-go/internal/version"
)

// hostnameGen produces a default hostname when --hostname is unset, the
// same parity the teacher's CLI gives every sandbox.
var hostnameGen = namegenerator.NewNameGenerator(time.Now().UTC().UnixNano())

// Default roots for the lock and workdir trees, overridable by env for
// tests and alternate deployments.
const (
	defaultLockRoot    = "/tmp/rustbox-locks"
	defaultWorkdirRoot = "/tmp/rustbox"
)

// ExitCoder lets main() translate a returned error into the exact exit
// code spec §6's command table names, instead of collapsing every
// failure onto exit 1.
type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code   int
	err    error
	silent bool // verdict already printed as JSON; main shouldn't echo an error line
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) ExitCode() int { return e.code }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) Silent() bool  { return e.silent }

// withExitCode wraps err so main can recover the exact exit code spec
// §6's command tables name. A nil error collapses to a clean nil return,
// whatever the code.
func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// withStatusExitCode reports a run/execute-code verdict whose JSON has
// already been printed to stdout: main should exit with code but never
// print a duplicate error line.
func withStatusExitCode(code int) error {
	if code == 0 {
		return nil
	}
	return &exitError{code: code, err: fmt.Errorf("exit code %d", code), silent: true}
}

func resourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "mem", Value: "256MB", Usage: "Memory limit (e.g., 256MB, 1GB); 0 disables"},
		&cli.Float64Flag{Name: "cpu", Aliases: []string{"time"}, Value: 0, Usage: "CPU time limit in seconds; 0 disables"},
		&cli.Float64Flag{Name: "wall-time", Value: 0, Usage: "Wall time limit in seconds; defaults to 2x --cpu"},
		&cli.IntFlag{Name: "processes", Value: 1, Usage: "Maximum live process count"},
		&cli.StringFlag{Name: "fsize", Value: "0", Usage: "Maximum output file size; 0 disables"},
		&cli.StringFlag{Name: "stack", Value: "8MB", Usage: "Stack rlimit; 0 disables"},
		&cli.StringFlag{Name: "core", Value: "0", Usage: "Core dump size rlimit; 0 disables"},
		&cli.IntFlag{Name: "fd-limit", Value: 64, Usage: "Open file descriptor rlimit"},
		&cli.StringFlag{Name: "disk-quota", Value: "0", Usage: "Post-run workdir size quota; 0 disables"},
		&cli.StringSliceFlag{Name: "dir", Usage: "Directory binding `SRC[=DST][:OPT,...]`, repeatable"},
		&cli.StringSliceFlag{Name: "env", Usage: "Environment variable `KEY=VALUE`, repeatable"},
		&cli.BoolFlag{Name: "strict", Value: false, Usage: "Treat a missing isolation primitive as a fatal error"},
		&cli.StringFlag{Name: "pid-ns", Value: "on", Usage: "Toggle the PID namespace (on|off)"},
		&cli.StringFlag{Name: "mount-ns", Value: "on", Usage: "Toggle the mount namespace (on|off)"},
		&cli.StringFlag{Name: "net-ns", Value: "on", Usage: "Toggle the network namespace (on|off)"},
		&cli.StringFlag{Name: "user-ns", Value: "off", Usage: "Toggle the user namespace (on|off)"},
		&cli.StringFlag{Name: "uts-ns", Value: "on", Usage: "Toggle the UTS (hostname) namespace (on|off)"},
		&cli.StringFlag{Name: "hostname", Value: "", Usage: "Hostname to set inside the box's UTS namespace; a random one is generated if unset"},
		&cli.StringFlag{Name: "log-level", Value: "error", Usage: "Log verbosity (info|warn|error)"},
		&cli.StringFlag{Name: "log-format", Value: "text", Usage: "Log format (text|json)"},
	}
}

func setupLogger(c *cli.Command) error {
	level, err := parseLogLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	format, err := parseLogFormat(c.String("log-format"))
	if err != nil {
		return err
	}
	logger.CreateLogger(&logger.LoggerOpts{LogLevel: level, LogFormat: format})
	return nil
}

func boolFlag(s string) bool { return s == "on" || s == "true" || s == "1" }

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func buildRunConfig(c *cli.Command) (*runconfig.Config, error) {
	mem, err := bytesize.Parse(c.String("mem"))
	if err != nil {
		return nil, fmt.Errorf("bad --mem %q: %w", c.String("mem"), err)
	}
	fsize, err := bytesize.Parse(c.String("fsize"))
	if err != nil {
		return nil, fmt.Errorf("bad --fsize %q: %w", c.String("fsize"), err)
	}
	stack, err := bytesize.Parse(c.String("stack"))
	if err != nil {
		return nil, fmt.Errorf("bad --stack %q: %w", c.String("stack"), err)
	}
	core, err := bytesize.Parse(c.String("core"))
	if err != nil {
		return nil, fmt.Errorf("bad --core %q: %w", c.String("core"), err)
	}
	quota, err := bytesize.Parse(c.String("disk-quota"))
	if err != nil {
		return nil, fmt.Errorf("bad --disk-quota %q: %w", c.String("disk-quota"), err)
	}

	var userEnv []runconfig.EnvVar
	for _, e := range c.StringSlice("env") {
		ev, err := ParseEnv(e)
		if err != nil {
			return nil, err
		}
		userEnv = append(userEnv, ev)
	}

	cfg := &runconfig.Config{
		MemoryLimit:   uint64(mem),
		CPUTimeLimit:  c.Float64("cpu"),
		WallTimeLimit: c.Float64("wall-time"),
		ProcessLimit:  int(c.Int("processes")),
		FileSizeLimit: uint64(fsize),
		StackLimit:    uint64(stack),
		CoreLimit:     uint64(core),
		FDLimit:       uint64(c.Int("fd-limit")),
		DiskQuota:     uint64(quota),
		Environment:   MergeEnv(defaultEnvironment, userEnv),
		StrictMode:    c.Bool("strict"),
		Namespaces: runconfig.NamespaceToggles{
			PID:   boolFlag(c.String("pid-ns")),
			Mount: boolFlag(c.String("mount-ns")),
			Net:   boolFlag(c.String("net-ns")),
			User:  boolFlag(c.String("user-ns")),
			UTS:   boolFlag(c.String("uts-ns")),
		},
		Hostname: firstNonEmpty(c.String("hostname"), hostnameGen.Generate()),
	}

	for _, d := range c.StringSlice("dir") {
		b, err := runconfig.ParseBinding(d)
		if err != nil {
			return nil, err
		}
		cfg.DirectoryBindings = append(cfg.DirectoryBindings, b)
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LockRoot reports the lock directory the CLI's commands use, so the host
// process can run a Reaper against the same tree.
func LockRoot() string {
	return firstNonEmptyEnv("RUSTBOX_LOCK_ROOT", defaultLockRoot)
}

func newLifecycle() *box.Lifecycle {
	workdirRoot := firstNonEmptyEnv("RUSTBOX_WORKDIR_ROOT", defaultWorkdirRoot)
	return box.New(LockRoot(), workdirRoot)
}

func firstNonEmptyEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printResult(res *result.ExecutionResult) {
	b, err := res.MarshalJSON()
	if err != nil {
		fmt.Fprintln(os.Stderr, "marshal result:", err)
		return
	}
	fmt.Println(string(b))
}

// exitCodeForStatus maps a run/execute-code verdict onto spec §6's exit
// code table.
func exitCodeForStatus(res *result.ExecutionResult) int {
	switch res.Status {
	case result.Success:
		return 0
	case result.TimeLimit:
		return 2
	case result.MemoryLimit:
		return 3
	case result.SecurityViolation:
		return 4
	case result.InternalError:
		return 5
	default:
		return 1
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create a box's lock, workdir, and registry entry",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "box-id", Required: true, Usage: "Box identifier"},
			&cli.BoolFlag{Name: "cgroups", Value: true, Usage: "Enable cgroup accounting and enforcement for this box"},
			&cli.StringFlag{Name: "log-level", Value: "error"},
			&cli.StringFlag{Name: "log-format", Value: "text"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := setupLogger(c); err != nil {
				return withExitCode(5, err)
			}
			lc := newLifecycle()
			if err := lc.Init(c.String("box-id"), c.Bool("cgroups")); err != nil {
				if se, ok := isLockBusy(err); ok {
					return withExitCode(2, se)
				}
				return withExitCode(5, err)
			}
			return nil
		},
	}
}

func runCommand() *cli.Command {
	flags := append([]cli.Flag{
		&cli.StringFlag{Name: "box-id", Required: true, Usage: "Box identifier"},
	}, resourceFlags()...)

	return &cli.Command{
		Name:      "run",
		Usage:     "Run a command inside an initialized box",
		Flags:     flags,
		ArgsUsage: "-- command [args...]",
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := setupLogger(c); err != nil {
				return withExitCode(5, err)
			}
			command := c.Args().Slice()
			if len(command) == 0 {
				return withExitCode(5, fmt.Errorf("run: missing command; usage: rustbox run [options] -- command [args...]"))
			}
			cfg, err := buildRunConfig(c)
			if err != nil {
				return withExitCode(5, err)
			}
			lc := newLifecycle()
			res, err := lc.Run(c.String("box-id"), cfg, command)
			if err != nil {
				if se, ok := isLockBusy(err); ok {
					return withExitCode(2, se)
				}
				return withExitCode(5, err)
			}
			printResult(res)
			return withStatusExitCode(exitCodeForStatus(res))
		},
	}
}

func executeCodeCommand() *cli.Command {
	flags := append([]cli.Flag{
		&cli.StringFlag{Name: "box-id", Required: true, Usage: "Box identifier"},
		&cli.StringFlag{Name: "language", Required: true, Usage: fmt.Sprintf("Language (%v)", langprofile.Names())},
		&cli.StringFlag{Name: "code", Required: true, Usage: "Source code to run"},
		&cli.StringFlag{Name: "stdin", Value: "", Usage: "Inline stdin for the payload"},
	}, resourceFlags()...)

	return &cli.Command{
		Name:  "execute-code",
		Usage: "Write source code into the box and run it with the matching language profile",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := setupLogger(c); err != nil {
				return withExitCode(5, err)
			}
			profile, err := langprofile.Lookup(c.String("language"))
			if err != nil {
				return withExitCode(5, err)
			}
			cfg, err := buildRunConfig(c)
			if err != nil {
				return withExitCode(5, err)
			}
			cfg.SeccompProfile = profile.Seccomp
			if stdin := c.String("stdin"); stdin != "" {
				cfg.Stdin = runconfig.Stdin{Kind: runconfig.StdinInline, Inline: []byte(stdin)}
			}

			lc := newLifecycle()
			boxID := c.String("box-id")

			// The chroot skeleton doesn't exist until the proxy builds it
			// mid-run, so the source file is staged outside it and bound
			// in read-only as a directory binding like any user mount.
			stagingDir := filepath.Join(lc.WorkdirRoot, boxID, "code")
			if err := os.MkdirAll(stagingDir, 0o755); err != nil {
				return withExitCode(5, err)
			}
			codeName := "payload" + languageExtension(c.String("language"))
			stagingFile := filepath.Join(stagingDir, codeName)
			if err := writeCodeFile(stagingFile, c.String("code")); err != nil {
				return withExitCode(5, err)
			}
			codePath := "/" + codeName
			cfg.DirectoryBindings = append(cfg.DirectoryBindings, fsisolate.Binding{
				Source: stagingFile, Target: codeName, Permissions: fsisolate.ReadOnly,
			})

			res, err := lc.Run(boxID, cfg, profile.Args(codePath))
			if err != nil {
				if se, ok := isLockBusy(err); ok {
					return withExitCode(2, se)
				}
				return withExitCode(5, err)
			}
			res.Language = c.String("language")
			res.SeccompProfileVersion = version.SeccompProfileVersion
			printResult(res)
			return withStatusExitCode(exitCodeForStatus(res))
		},
	}
}

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Remove a box's workdir, cgroup tree, and registry entry",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "box-id", Required: true, Usage: "Box identifier"},
			&cli.StringFlag{Name: "log-level", Value: "error"},
			&cli.StringFlag{Name: "log-format", Value: "text"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			_ = setupLogger(c)
			lc := newLifecycle()
			_ = lc.Cleanup(c.String("box-id"))
			return nil
		},
	}
}

func checkDepsCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-deps",
		Usage: "Probe the host for every isolation primitive the engine depends on",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Value: false, Usage: "Print the detail string for each passing check too"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			checks := depcheck.Run()
			for _, chk := range checks {
				switch {
				case chk.Missing:
					fmt.Printf("MISSING %-20s %s\n", chk.Name, chk.Detail)
				case c.Bool("verbose"):
					fmt.Printf("OK      %-20s %s\n", chk.Name, chk.Detail)
				default:
					fmt.Printf("OK      %s\n", chk.Name)
				}
			}
			if !depcheck.AllOK(checks) {
				return withExitCode(1, fmt.Errorf("check-deps: one or more dependencies are missing"))
			}
			return nil
		},
	}
}

func languageExtension(lang string) string {
	switch lang {
	case "python":
		return ".py"
	case "javascript":
		return ".js"
	case "java":
		return ".java"
	default:
		return ".txt"
	}
}

func writeCodeFile(path, code string) error {
	return os.WriteFile(path, []byte(code), 0o644)
}

// isLockBusy reports whether err is a SandboxError whose LockReason
// indicates contention on a box's lock, which the CLI surfaces as exit
// code 2 instead of the generic internal-error code 5.
func isLockBusy(err error) (error, bool) {
	se, ok := errs.As(err)
	if !ok {
		return nil, false
	}
	switch se.LockReason {
	case errs.LockReasonBusy, errs.LockReasonTimeout:
		return se, true
	default:
		return nil, false
	}
}

// ParseCli builds and runs the rustbox command tree.
func ParseCli(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:    "rustbox",
		Usage:   "A Linux sandbox engine for running untrusted code under resource and security isolation.",
		Version: version.Version(),
		Commands: []*cli.Command{
			initCommand(),
			runCommand(),
			executeCodeCommand(),
			cleanupCommand(),
			checkDepsCommand(),
		},
	}
	return cmd.Run(ctx, args)
}
