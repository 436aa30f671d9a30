//go:build linux

package supervisor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rustbox/rustbox-go/internal/fsisolate"
	"github.com/rustbox/rustbox-go/internal/ipc"
	"github.com/rustbox/rustbox-go/internal/nsisolate"
	"github.com/rustbox/rustbox-go/internal/rlimit"
)

// statusSampleInterval is how often the proxy samples the inside process's
// /proc usage onto the status pipe when the keeper has no cgroup counters
// of its own to read (spec.md §4.7 step 2's fallback path).
const statusSampleInterval = 200 * time.Millisecond

// proxy file descriptors, fixed by Supervisor.Execute's ExtraFiles order.
const (
	fdConfig = 3
	fdStatus = 4
	fdError  = 5
	fdSync   = 6
)

// RunProxy is cmd/rustbox/main.go's entry point when argv[1] ==
// ReexecProxyArg. It never returns on the success path: the Inside
// process it forks execs the payload, and the proxy waits on it here.
func RunProxy() {
	cfgFile := os.NewFile(fdConfig, "proxy-config")
	statusFile := os.NewFile(fdStatus, "proxy-status")
	errFile := os.NewFile(fdError, "proxy-error")

	cfg, err := readProxyConfig(cfgFile)
	if err != nil {
		reportFatal(errFile, err)
	}

	// Wait for the keeper to finish attaching this process to its cgroup
	// before doing any setup that spawns or measures resource usage, so a
	// cgroup-enabled run never has a window where the proxy or inside run
	// unaccounted for.
	if err := ipc.WaitForParent(fdSync); err != nil {
		reportFatal(errFile, fmt.Errorf("wait for cgroup attach: %w", err))
	}

	if err := runProxySetup(cfg); err != nil {
		reportFatal(errFile, err)
	}

	inside := exec.Command("/proc/self/exe", ReexecInsideArg)
	inside.Stdin = os.Stdin
	inside.Stdout = os.Stdout
	inside.Stderr = os.Stderr
	inside.Env = []string{insideConfigEnv + "=" + mustMarshal(cfg)}

	if err := inside.Start(); err != nil {
		reportFatal(errFile, fmt.Errorf("start inside: %w", err))
	}

	stopSampling := make(chan struct{})
	samplingDone := make(chan struct{})
	go sampleStatus(inside.Process.Pid, statusFile, stopSampling, samplingDone)

	err = inside.Wait()
	close(stopSampling)
	<-samplingDone
	_ = statusFile.Close()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		reportFatal(errFile, fmt.Errorf("run inside: %w", err))
	}
	os.Exit(0)
}

// sampleStatus periodically writes the inside process's /proc-derived CPU
// and memory usage onto the status pipe, the non-cgroup fallback the
// keeper's supervise loop reads when it has no cgroup counters of its own.
func sampleStatus(pid int, statusFile *os.File, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(statusSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sample, err := readProcUsage(pid)
			if err != nil {
				continue
			}
			payload, err := json.Marshal(sample)
			if err != nil {
				continue
			}
			if err := ipc.WriteMessage(statusFile, payload); err != nil {
				return
			}
		}
	}
}

func readProxyConfig(f *os.File) (ProxyConfig, error) {
	var cfg ProxyConfig
	buf, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("proxy: read config: %w", err)
	}
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("proxy: parse config: %w", err)
	}
	return cfg, nil
}

// runProxySetup performs every step the spec assigns to the Proxy:
// namespace post-unshare work, chroot skeleton and bind mounts, and
// rlimits. Seccomp install and the privilege drop happen in Inside,
// immediately before exec, since both forbid the syscalls the Proxy
// still needs (mount, chroot, setrlimit) to finish its own setup.
func runProxySetup(cfg ProxyConfig) error {
	if err := nsisolate.Apply(cfg.Namespaces, cfg.Hostname, cfg.StrictMode); err != nil {
		return fmt.Errorf("namespace setup: %w", err)
	}

	iso := fsisolate.New(cfg.ChrootRoot)
	if err := iso.BuildSkeleton(); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}
	for _, b := range cfg.Bindings {
		binding := fsisolate.Binding{
			Source: b.Source, Target: b.Target,
			Permissions: fsisolate.Permission(b.Permissions),
			Maybe:       b.Maybe, IsTmp: b.IsTmp,
		}
		if err := iso.MountBinding(binding); err != nil {
			return fmt.Errorf("chroot: bind %s: %w", b.Source, err)
		}
	}
	if err := iso.ApplyChroot(); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}

	if err := nsisolate.MountProc(cfg.StrictMode); err != nil {
		return fmt.Errorf("namespace: %w", err)
	}
	if err := nsisolate.MountTmpfs(cfg.TmpfsBytes, cfg.StrictMode); err != nil {
		return fmt.Errorf("namespace: %w", err)
	}

	limits := rlimit.Limits{
		AddressSpace: cfg.Limits.AddressSpace,
		CPUSeconds:   cfg.Limits.CPUSeconds,
		Stack:        cfg.Limits.Stack,
		Core:         cfg.Limits.Core,
		FileSize:     cfg.Limits.FileSize,
		NOFILE:       cfg.Limits.NOFILE,
		NPROC:        cfg.Limits.NPROC,
	}
	if err := rlimit.Apply(limits, cfg.StrictMode); err != nil {
		return fmt.Errorf("rlimit: %w", err)
	}

	return nil
}

func reportFatal(errFile *os.File, err error) {
	_ = ipc.WriteMessage(errFile, []byte(err.Error()))
	os.Exit(1)
}

func mustMarshal(cfg ProxyConfig) string {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "{}"
	}
	return string(b)
}
