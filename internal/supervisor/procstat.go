//go:build linux

package supervisor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rustbox/rustbox-go/internal/ipc"
)

// clockTicksPerSecond is USER_HZ, fixed at 100 on every Linux platform this
// engine targets.
const clockTicksPerSecond = 100

// statusSample is the proxy -> keeper status pipe payload used as the
// non-cgroup fallback for live resource sampling (spec.md §4.7 step 2):
// /proc/<pid>/stat utime+stime and /proc/<pid>/status VmPeak.
type statusSample struct {
	CPUSeconds  float64 `json:"cpu_seconds"`
	MemoryBytes uint64  `json:"memory_bytes"`
}

// readProcUsage samples pid's cumulative CPU time and peak virtual memory
// size (VmPeak) from procfs.
// Called by the proxy, which shares a pid namespace and mount namespace
// with the inside process it forked and so can resolve pid directly.
func readProcUsage(pid int) (statusSample, error) {
	cpu, err := readProcStatCPU(pid)
	if err != nil {
		return statusSample{}, err
	}
	mem, err := readProcStatusVmPeak(pid)
	if err != nil {
		return statusSample{}, err
	}
	return statusSample{CPUSeconds: cpu, MemoryBytes: mem}, nil
}

// readProcStatCPU parses utime (field 14) and stime (field 15) out of
// /proc/<pid>/stat. The comm field (2) is parenthesized and may itself
// contain spaces, so fields are counted from the closing paren rather than
// split naively.
func readProcStatCPU(pid int) (float64, error) {
	raw, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	line := string(raw)
	close := strings.LastIndexByte(line, ')')
	if close < 0 || close+2 >= len(line) {
		return 0, fmt.Errorf("procstat: malformed stat line for pid %d", pid)
	}
	fields := strings.Fields(line[close+2:])
	// fields[0] is state (field 3); utime is field 14, i.e. fields[11].
	const utimeIdx, stimeIdx = 11, 12
	if len(fields) <= stimeIdx {
		return 0, fmt.Errorf("procstat: too few fields in stat line for pid %d", pid)
	}
	utime, err := strconv.ParseUint(fields[utimeIdx], 10, 64)
	if err != nil {
		return 0, err
	}
	stime, err := strconv.ParseUint(fields[stimeIdx], 10, 64)
	if err != nil {
		return 0, err
	}
	return float64(utime+stime) / clockTicksPerSecond, nil
}

// readProcStatusVmPeak parses the VmPeak line (kB) out of /proc/<pid>/status.
func readProcStatusVmPeak(pid int) (uint64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "VmPeak:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("procstat: malformed VmPeak line")
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	// A process with no resident memory yet (rare, between fork and exec)
	// has no VmPeak line; zero is a safe default, not an error.
	return 0, nil
}

// statusReader drains the proxy's status pipe in the background and keeps
// the most recent sample available to the supervise loop's poll tick,
// without the loop itself blocking on pipe reads.
type statusReader struct {
	mu     sync.Mutex
	sample statusSample
	done   chan struct{}
}

func newStatusReader(r *os.File) *statusReader {
	sr := &statusReader{done: make(chan struct{})}
	go sr.run(r)
	return sr
}

func (sr *statusReader) run(r *os.File) {
	defer close(sr.done)
	for {
		msg, err := ipc.ReadMessage(r)
		if err != nil {
			return
		}
		if msg == nil {
			continue
		}
		var sample statusSample
		if json.Unmarshal(msg, &sample) != nil {
			continue
		}
		sr.mu.Lock()
		sr.sample = sample
		sr.mu.Unlock()
	}
}

func (sr *statusReader) latest() statusSample {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.sample
}

// stop waits for the background reader to observe pipe closure. The
// caller closes/reads the underlying file to unblock it beforehand.
func (sr *statusReader) stop() {
	<-sr.done
}
