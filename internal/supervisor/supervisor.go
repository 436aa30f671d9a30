//go:build linux

// Package supervisor implements the three-process architecture that
// separates the measuring supervisor from the untrusted payload: the
// Keeper (this package, run by the box lifecycle), the Proxy (security
// boundary, launched as a self-reexec of the rustbox binary under the
// requested clone namespaces), and the Inside process (forked by the
// Proxy, execs the payload after the final seccomp install).
//
// Go can't safely call the raw fork(2) once the runtime has started
// extra OS threads, so both process boundaries here are created the way
// runc and similar tools do it: os/exec launching a re-exec of the
// current binary, with namespace flags set through SysProcAttr.Cloneflags
// rather than a hand-rolled clone3 call.
package supervisor

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/rustbox/rustbox-go/internal/cgroup"
	"github.com/rustbox/rustbox-go/internal/errs"
	"github.com/rustbox/rustbox-go/internal/ipc"
	"github.com/rustbox/rustbox-go/internal/logger"
	"github.com/rustbox/rustbox-go/internal/nsisolate"
	"github.com/rustbox/rustbox-go/internal/result"
	"github.com/rustbox/rustbox-go/internal/runconfig"
	"github.com/rustbox/rustbox-go/internal/verdict"
	"golang.org/x/sys/unix"
)

// ReexecProxyArg is the hidden argv[0]-adjacent subcommand the rustbox
// binary recognizes to run as the Proxy instead of the CLI.
const ReexecProxyArg = "__rustbox_proxy"

// pollInterval is the supervisor loop's fixed tick, spec §5.
const pollInterval = 10 * time.Millisecond

// ProxyConfig is the JSON payload the Keeper passes to the re-exec'd
// Proxy over a pipe (fd 3), since a re-exec can't share Go values
// directly with its parent.
type ProxyConfig struct {
	ChrootRoot    string              `json:"chroot_root"`
	Hostname      string              `json:"hostname"`
	Bindings      []bindingJSON       `json:"bindings"`
	Namespaces    nsisolate.Toggles   `json:"namespaces"`
	Limits        limitsJSON          `json:"limits"`
	SeccompProfile string             `json:"seccomp_profile"`
	StrictMode    bool                `json:"strict_mode"`
	UID           uint32              `json:"uid"`
	GID           uint32              `json:"gid"`
	Command       []string            `json:"command"`
	Env           []string            `json:"env"`
	TmpfsBytes    uint64              `json:"tmpfs_bytes"`
}

type bindingJSON struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Permissions int    `json:"permissions"`
	Maybe       bool   `json:"maybe"`
	IsTmp       bool   `json:"is_tmp"`
}

type limitsJSON struct {
	AddressSpace uint64 `json:"address_space"`
	CPUSeconds   uint64 `json:"cpu_seconds"`
	Stack        uint64 `json:"stack"`
	Core         uint64 `json:"core"`
	FileSize     uint64 `json:"file_size"`
	NOFILE       uint64 `json:"nofile"`
	NPROC        uint64 `json:"nproc"`
}

// Supervisor is the Keeper's view of one run: it launches and supervises
// the Proxy, using the cgroup handle its caller created (and tears down),
// and assembles the raw Execution Result. The box lock is held by the
// caller, box.Lifecycle.Run, not by the Supervisor.
type Supervisor struct {
	BoxID   string
	Workdir string
	Config  *runconfig.Config
	Cgroup  *cgroup.Group
}

// Execute spawns the Proxy, attaches it to the cgroup, supervises it to
// completion, and returns the raw (pre-disk-quota-override) result.
func (s *Supervisor) Execute(command []string) (*result.ExecutionResult, error) {
	runID := uuid.New().String()
	log := logger.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("box_id", s.BoxID), slog.String("run_id", runID))
	log.Info("run starting", slog.Any("command", command))

	cfg := s.buildProxyConfig(command)
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "marshal proxy config")
	}

	cfgR, cfgW, err := os.Pipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindProcess, err, "create config pipe")
	}
	statusR, statusW, err := os.Pipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindProcess, err, "create status pipe")
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindProcess, err, "create error pipe")
	}
	syncRfd, syncWfd, err := ipc.MakeSyncPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindProcess, err, "create sync pipe")
	}
	syncR := os.NewFile(uintptr(syncRfd), "proxy-sync-r")

	self, err := os.Executable()
	if err != nil {
		return nil, errs.Wrap(errs.KindProcess, err, "resolve self executable")
	}

	cmd := exec.Command(self, ReexecProxyArg)
	cmd.ExtraFiles = []*os.File{cfgR, statusW, errW, syncR}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: uintptr(s.Config.Namespaces.ToNsisolate().CloneFlags()),
	}
	if s.Config.Namespaces.User {
		// rustbox always runs as root, so the user namespace only needs an
		// identity mapping of container root to host root. Go writes
		// uid_map/gid_map (and denies setgroups) before the proxy execs,
		// so the namespace is never unshared a second time by the proxy
		// itself.
		cmd.SysProcAttr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: 0, Size: 1}}
		cmd.SysProcAttr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: 0, Size: 1}}
	}
	cmd.Stdin = nil

	stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW, err := s.setupStdio(cmd)
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		ipc.ClosePipe(int(cfgR.Fd()), int(cfgW.Fd()))
		ipc.ClosePipe(syncRfd, syncWfd)
		return nil, errs.Wrap(errs.KindProcess, err, "start proxy")
	}

	// Config, status-write, error-write, and sync-read ends belong to the
	// child now.
	_ = cfgR.Close()
	_ = statusW.Close()
	_ = errW.Close()
	_ = syncR.Close()
	closeIfSet(stdinR)
	closeIfSet(stdoutW)
	closeIfSet(stderrW)

	if _, err := cfgW.Write(payload); err != nil {
		_ = cfgW.Close()
		_ = unix.Close(syncWfd)
		return nil, errs.Wrap(errs.KindProcess, err, "write proxy config")
	}
	_ = cfgW.Close()

	if s.Cgroup != nil {
		for _, attachErr := range s.Cgroup.Attach(cmd.Process.Pid) {
			if s.Config.StrictMode {
				_ = cmd.Process.Kill()
				_ = unix.Close(syncWfd)
				return nil, errs.Wrap(errs.KindCgroup, attachErr, "attach proxy to cgroup")
			}
			log.Warn("attach proxy to cgroup", slog.Any("err", attachErr))
		}
	}

	// Release the proxy past its startup barrier only once it is either
	// attached to its cgroup or cgroups aren't in play for this run, so a
	// cgroup-enabled run never has a window where the proxy runs unattached.
	if err := ipc.SignalChild(syncWfd); err != nil {
		log.Warn("signal proxy past sync barrier", slog.Any("err", err))
	}

	if stdinW != nil {
		go feedStdin(stdinW, s.Config.Stdin)
	}

	res, err := s.supervise(cmd, statusR, errR, stdoutR, stderrR)
	if err != nil {
		log.Error("run failed", slog.Any("err", err))
		return nil, err
	}
	log.Info("run finished", slog.String("status", string(res.Status)))
	return res, nil
}

func (s *Supervisor) buildProxyConfig(command []string) ProxyConfig {
	bindings := make([]bindingJSON, 0, len(s.Config.DirectoryBindings))
	for _, b := range s.Config.DirectoryBindings {
		bindings = append(bindings, bindingJSON{
			Source: b.Source, Target: b.Target,
			Permissions: int(b.Permissions), Maybe: b.Maybe, IsTmp: b.IsTmp,
		})
	}
	tmpfs := s.Config.FileSizeLimit
	if tmpfs == 0 {
		tmpfs = 64 * 1024 * 1024
	}
	return ProxyConfig{
		ChrootRoot: s.Workdir + "/root",
		Hostname:   s.Config.Hostname,
		Bindings:   bindings,
		Namespaces: s.Config.Namespaces.ToNsisolate(),
		Limits: limitsJSON{
			AddressSpace: s.Config.MemoryLimit,
			CPUSeconds:   uint64(s.Config.CPUTimeLimit),
			Stack:        s.Config.StackLimit,
			Core:         s.Config.CoreLimit,
			FileSize:     s.Config.FileSizeLimit,
			NOFILE:       s.Config.FDLimit,
			NPROC:        uint64(s.Config.ProcessLimit),
		},
		SeccompProfile: firstNonEmpty(s.Config.SeccompProfile, "anonymous"),
		StrictMode:     s.Config.StrictMode,
		UID:            65534,
		GID:            65534,
		Command:        command,
		Env:            s.Config.Environment.ToStringArray(),
		TmpfsBytes:     tmpfs,
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func closeIfSet(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}

// supervise runs the fixed-tick poll loop: non-blocking wait4, cgroup
// resource sampling, limit-breach detection and termination, drains the
// status/error pipes, and assembles the raw Execution Result.
func (s *Supervisor) supervise(cmd *exec.Cmd, statusR, errR, stdoutR, stderrR *os.File) (*result.ExecutionResult, error) {
	start := time.Now()
	var stdout, stderr bytes.Buffer
	if stdoutR != nil {
		go drainCapped(stdoutR, &stdout)
	}
	if stderrR != nil {
		go drainCapped(stderrR, &stderr)
	}

	var setupErr string
	errDone := make(chan struct{})
	go func() {
		defer close(errDone)
		msg, err := ipc.ReadMessage(errR)
		if err == nil && msg != nil {
			setupErr = string(msg)
		}
	}()

	fallback := newStatusReader(statusR)

	var breach verdict.LimitBreach
	var memPressure bool
	var ws unix.WaitStatus
	var rusage unix.Rusage

	for {
		wpid, err := unix.Wait4(cmd.Process.Pid, &ws, unix.WNOHANG, &rusage)
		if err != nil && err != unix.EINTR {
			breach = verdict.BreachNone
			break
		}
		if wpid == cmd.Process.Pid {
			break
		}

		elapsed := time.Since(start).Seconds()
		if s.Config.WallTimeLimit > 0 && elapsed >= s.Config.WallTimeLimit {
			breach = verdict.BreachTime
			s.killTree(cmd)
			break
		}

		if s.Cgroup != nil {
			if s.Config.CPUTimeLimit > 0 && s.Cgroup.CPUTimeSeconds() >= s.Config.CPUTimeLimit {
				breach = verdict.BreachTime
				s.killTree(cmd)
				break
			}
			if s.Config.MemoryLimit > 0 {
				peak := s.Cgroup.PeakMemoryBytes()
				if peak >= s.Config.MemoryLimit {
					memPressure = true
					breach = verdict.BreachMemory
					s.killTree(cmd)
					break
				}
			}
		} else {
			sample := fallback.latest()
			if s.Config.CPUTimeLimit > 0 && sample.CPUSeconds >= s.Config.CPUTimeLimit {
				breach = verdict.BreachTime
				s.killTree(cmd)
				break
			}
			if s.Config.MemoryLimit > 0 && sample.MemoryBytes >= s.Config.MemoryLimit {
				memPressure = true
				breach = verdict.BreachMemory
				s.killTree(cmd)
				break
			}
		}

		time.Sleep(pollInterval)
	}

	// Drain a terminal wait if the breach path killed the tree without
	// having already reaped it.
	if breach != verdict.BreachNone {
		_, _ = unix.Wait4(cmd.Process.Pid, &ws, 0, &rusage)
	}

	<-errDone
	fallback.stop()
	_ = statusR.Close()
	_ = errR.Close()

	wallTime := time.Since(start).Seconds()

	var exitCode *int
	var signal *int
	if ws.Exited() {
		c := ws.ExitStatus()
		exitCode = &c
	}
	if ws.Signaled() {
		sg := int(ws.Signal())
		signal = &sg
	}

	status := verdict.Assemble(verdict.Input{
		SetupError:             setupErr,
		Breach:                 breach,
		Exited:                 ws.Exited(),
		ExitCode:               valueOr(exitCode, 0),
		Signaled:               ws.Signaled(),
		Signal:                 unix.Signal(valueOr(signal, 0)),
		MemoryPressureObserved: memPressure,
	})

	memPeak := uint64(0)
	if s.Cgroup != nil {
		memPeak = s.Cgroup.PeakMemoryBytes()
	} else {
		memPeak = fallback.latest().MemoryBytes
	}

	res := &result.ExecutionResult{
		Status:       status,
		ExitCode:     exitCode,
		Stdout:       stdout.String(),
		Stderr:       stderr.String(),
		WallTime:     wallTime,
		CPUTime:      cpuSeconds(rusage),
		MemoryPeak:   memPeak,
		Signal:       signal,
		Success:      status == result.Success,
		ErrorMessage: setupErr,
	}
	return res, nil
}

func valueOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func cpuSeconds(ru unix.Rusage) float64 {
	user := float64(ru.Utime.Sec) + float64(ru.Utime.Usec)/1e6
	sys := float64(ru.Stime.Sec) + float64(ru.Stime.Usec)/1e6
	return user + sys
}

// killTree kills the proxy; in cgroup mode it first kills the whole group,
// Inside included. Without a cgroup, Inside dies with the proxy only when
// the proxy is PID 1 of its own PID namespace; otherwise it is not
// signalled.
func (s *Supervisor) killTree(cmd *exec.Cmd) {
	if s.Cgroup != nil {
		s.Cgroup.Kill()
	}
	_ = cmd.Process.Signal(unix.SIGKILL)
}

// drainCapped copies src into dst up to maxCapturedOutput bytes, appending
// a truncation marker once the cap is hit and discarding the remainder.
func drainCapped(src *os.File, dst *bytes.Buffer) {
	const maxCapturedOutput = 100 * 64 * 1024 // 100x a 64KiB IO buffer
	buf := make([]byte, 64*1024)
	truncated := false
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if !truncated {
				remaining := maxCapturedOutput - dst.Len()
				if n > remaining {
					dst.Write(buf[:remaining])
					dst.WriteString("\n...[truncated]...\n")
					truncated = true
				} else {
					dst.Write(buf[:n])
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func feedStdin(w *os.File, in runconfig.Stdin) {
	defer w.Close()
	switch in.Kind {
	case runconfig.StdinInline:
		_, _ = w.Write(in.Inline)
	case runconfig.StdinFile:
		if f, err := os.Open(in.Path); err == nil {
			defer f.Close()
			buf := make([]byte, 32*1024)
			for {
				n, rerr := f.Read(buf)
				if n > 0 {
					if _, werr := w.Write(buf[:n]); werr != nil {
						return
					}
				}
				if rerr != nil {
					return
				}
			}
		}
	}
}

func (s *Supervisor) setupStdio(cmd *exec.Cmd) (stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW *os.File, err error) {
	if s.Config.Stdin.Kind != runconfig.StdinNone {
		stdinR, stdinW, err = os.Pipe()
		if err != nil {
			return
		}
		cmd.Stdin = stdinR
	}
	stdoutR, stdoutW, err = os.Pipe()
	if err != nil {
		return
	}
	cmd.Stdout = stdoutW
	stderrR, stderrW, err = os.Pipe()
	if err != nil {
		return
	}
	cmd.Stderr = stderrW
	return
}
