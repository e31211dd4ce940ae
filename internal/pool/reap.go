package pool

import "syscall"

// ReapFunc collects one already-exited child without blocking.
// It returns the reaped pid and its exit code, pid 0 when no child has
// exited, and an error when there are no children at all.
type ReapFunc func() (pid int, exitCode int, err error)

// reapChild wraps waitpid with WNOHANG. A child killed by a signal is
// reported as 128+signum, matching shell convention.
func reapChild() (int, int, error) {
	var ws syscall.WaitStatus
	pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
	if err != nil {
		return 0, 0, err
	}
	if pid <= 0 {
		return 0, 0, nil
	}
	code := ws.ExitStatus()
	if ws.Signaled() {
		code = 128 + int(ws.Signal())
	}
	return pid, code, nil
}
