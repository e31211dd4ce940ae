package pool

import (
	"os"
	"os/signal"
	"syscall"
)

// SignalQueue captures OS signals for deferred processing in the
// daemon control loop.
type SignalQueue struct {
	C  <-chan os.Signal
	ch chan os.Signal
}

// NewSignalQueue creates a signal queue with a buffer of 16 signals.
// It registers for SIGTERM, SIGINT, SIGQUIT, SIGHUP, SIGUSR2, and SIGCHLD.
func NewSignalQueue() *SignalQueue {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGHUP,
		syscall.SIGUSR2,
		syscall.SIGCHLD,
	)
	return &SignalQueue{
		C:  ch,
		ch: ch,
	}
}

// Stop deregisters signal notifications.
func (sq *SignalQueue) Stop() {
	signal.Stop(sq.ch)
}
