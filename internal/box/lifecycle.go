//go:build linux

package box

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rustbox/rustbox-go/internal/cgroup"
	"github.com/rustbox/rustbox-go/internal/errs"
	"github.com/rustbox/rustbox-go/internal/lock"
	"github.com/rustbox/rustbox-go/internal/result"
	"github.com/rustbox/rustbox-go/internal/runconfig"
	"github.com/rustbox/rustbox-go/internal/supervisor"
)

const lockTimeout = 5 * time.Second

// Lifecycle binds the lock root, workdir root, and registry together for
// one host's boxes. The three commands spec §4.8 names — init, run,
// cleanup — are its methods.
type Lifecycle struct {
	LockRoot    string
	WorkdirRoot string
	Registry    *Registry
}

func New(lockRoot, workdirRoot string) *Lifecycle {
	return &Lifecycle{
		LockRoot:    lockRoot,
		WorkdirRoot: workdirRoot,
		Registry:    NewRegistry(workdirRoot),
	}
}

func (l *Lifecycle) workdir(boxID string) string {
	return filepath.Join(l.WorkdirRoot, boxID)
}

// Init acquires the lock in init mode, creates the workdir, and persists
// a fresh registry entry. Idempotent only for the owning uid; rolls back
// the workdir and lock on any failure after lock acquisition.
func (l *Lifecycle) Init(boxID string, cgEnabled bool) error {
	lk, err := lock.Acquire(l.LockRoot, boxID, true, cgEnabled, lockTimeout)
	if err != nil {
		return err
	}
	defer lk.Release()

	if err := os.MkdirAll(l.workdir(boxID), 0o755); err != nil {
		return errs.Wrap(errs.KindIO, err, "create workdir for box %s", boxID)
	}

	now := time.Now()
	meta := Metadata{
		OwnerUID:       lk.Record().OwnerUID,
		CreatedAt:      now,
		LastUsedAt:     now,
		CgroupsEnabled: cgEnabled,
	}
	if err := l.Registry.Put(boxID, meta); err != nil {
		_ = os.RemoveAll(l.workdir(boxID))
		return err
	}

	return nil
}

// Run acquires the lock in run mode, requires the box to be initialized,
// builds the cgroup, hands off to the supervisor, tears the cgroup down,
// and releases the lock. Returns the raw Execution Result.
func (l *Lifecycle) Run(boxID string, cfg *runconfig.Config, command []string) (*result.ExecutionResult, error) {
	meta, ok, err := l.Registry.Get(boxID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.Lock(errs.LockReasonNotInitialized, "box %s has not been initialized", boxID)
	}

	lk, err := lock.Acquire(l.LockRoot, boxID, false, meta.CgroupsEnabled, lockTimeout)
	if err != nil {
		return nil, err
	}
	defer lk.Release()

	hb := lock.StartHeartbeat(l.LockRoot, boxID)
	defer hb.Stop()

	var cg *cgroup.Group
	if meta.CgroupsEnabled {
		cg, err = cgroup.New(boxID, cfg.StrictMode)
		if err != nil {
			return nil, err
		}
		defer cg.Cleanup()
	}

	sup := &supervisor.Supervisor{
		BoxID:   boxID,
		Workdir: l.workdir(boxID),
		Config:  cfg,
		Cgroup:  cg,
	}
	res, err := sup.Execute(command)
	if err != nil {
		return nil, err
	}

	_ = l.Registry.TouchLastUsed(boxID, time.Now())

	if cfg.DiskQuota > 0 {
		size, sizeErr := dirSize(l.workdir(boxID))
		if sizeErr == nil && size > cfg.DiskQuota {
			res.Status = result.DiskQuotaExceeded
			res.Success = false
			res.ErrorMessage = fmt.Sprintf("workdir size %d exceeds disk_quota %d", size, cfg.DiskQuota)
		}
	}

	return res, nil
}

// Cleanup removes the workdir and cgroup tree, truncates the lock file,
// and deletes the registry entry. Idempotent.
func (l *Lifecycle) Cleanup(boxID string) error {
	lk, err := lock.Acquire(l.LockRoot, boxID, false, false, lockTimeout)
	if err != nil {
		if se, ok := errs.As(err); ok && se.LockReason == errs.LockReasonNotInitialized {
			return nil
		}
		return err
	}
	defer lk.Release()

	if err := os.RemoveAll(l.workdir(boxID)); err != nil {
		return errs.Wrap(errs.KindIO, err, "remove workdir for box %s", boxID)
	}
	if cg, err := cgroup.Open(boxID); err == nil {
		_ = cg.Cleanup()
	}
	return l.Registry.Delete(boxID)
}

func dirSize(root string) (uint64, error) {
	var total uint64
	err := filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	return total, err
}
