package daemon

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"
)

// Daemonize performs a double fork to detach from the controlling
// terminal. Returns true in the original parent, which should exit
// without touching the pool.
func Daemonize(logger *slog.Logger) (bool, error) {
	pid, errno := sysFork()
	if errno != 0 {
		return false, fmt.Errorf("first fork failed: %v", errno)
	}
	if pid > 0 {
		return true, nil
	}

	if _, err := syscall.Setsid(); err != nil {
		return false, fmt.Errorf("setsid failed: %w", err)
	}

	pid, errno = sysFork()
	if errno != 0 {
		return false, fmt.Errorf("second fork failed: %v", errno)
	}
	if pid > 0 {
		// Session leader exits; the grandchild can never reacquire a
		// controlling terminal.
		os.Exit(0)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return false, fmt.Errorf("cannot open /dev/null: %w", err)
	}
	_ = sysDup2(int(devNull.Fd()), int(os.Stdin.Fd()))
	_ = sysDup2(int(devNull.Fd()), int(os.Stdout.Fd()))
	_ = sysDup2(int(devNull.Fd()), int(os.Stderr.Fd()))
	devNull.Close()

	logger.Info("daemonized", "pid", os.Getpid())
	return false, nil
}
