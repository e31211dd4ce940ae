package worker

import (
	"syscall"

	"github.com/prometheus/procfs"
)

// MemorySampler reports the worker's current resident memory in bytes.
type MemorySampler func() (uint64, error)

// ProcfsSampler samples RSS from /proc for the calling process.
func ProcfsSampler() MemorySampler {
	return func() (uint64, error) {
		proc, err := procfs.Self()
		if err != nil {
			return 0, err
		}
		stat, err := proc.Stat()
		if err != nil {
			return 0, err
		}
		return uint64(stat.ResidentMemory()), nil
	}
}

// ParentProbe checks that the given parent pid is still reachable.
// A nil error means the parent is alive.
type ParentProbe func(pid int) error

// KillProbe probes with a zero-effect signal. EPERM still proves the
// process exists; ESRCH means it is gone and this child is orphaned.
func KillProbe() ParentProbe {
	return func(pid int) error {
		err := syscall.Kill(pid, 0)
		if err == syscall.EPERM {
			return nil
		}
		return err
	}
}
