// Package worker implements the run loop executed inside each child
// process: repeated invocation of user-supplied work guarded by
// cooperative cancellation, an orphan-detection probe, and a resident
// memory ceiling.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/herdteam/herd/internal/title"
)

// TitleRefreshInterval caps how often the cosmetic process title is
// rewritten. Purely observability; absence of the capability changes
// nothing.
const TitleRefreshInterval = 2 * time.Minute

// Callbacks holds the user-supplied worker logic. Work is required;
// Setup and Teardown are optional. Callbacks are expected to handle
// their own domain errors: an error returned from any of them is fatal
// to this one child process.
type Callbacks struct {
	Setup    func(context.Context) error
	Work     func(context.Context) error
	Teardown func(context.Context) error
}

// Config holds worker tunables. Zero values select sane defaults.
type Config struct {
	Program     string        // process title prefix
	ParentPID   int           // pid probed for liveness, default os.Getppid()
	Delay       time.Duration // per-iteration sleep, fractional seconds fine
	MemoryLimit uint64        // RSS ceiling in bytes, 0 = unlimited
	Heartbeat   time.Duration // info-level heartbeat interval, default 60m

	Sampler MemorySampler // default ProcfsSampler()
	Probe   ParentProbe   // default KillProbe()
	Titler  title.Setter  // default platform setter

	HandleSignals bool // install TERM/INT/QUIT/HUP self-stop handlers
}

// Worker runs the per-child iteration loop.
type Worker struct {
	cfg    Config
	cb     Callbacks
	sm     *StateMachine
	logger *slog.Logger

	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}

	startedAt time.Time
	lastBeat  time.Time
	lastTitle time.Time
}

// New creates a worker. The configuration snapshot is the only state
// shared with the parent; everything else lives and dies with this
// process.
func New(cfg Config, cb Callbacks, logger *slog.Logger) *Worker {
	if cfg.ParentPID == 0 {
		cfg.ParentPID = os.Getppid()
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = time.Hour
	}
	if cfg.Sampler == nil {
		cfg.Sampler = ProcfsSampler()
	}
	if cfg.Probe == nil {
		cfg.Probe = KillProbe()
	}
	if cfg.Titler == nil {
		cfg.Titler = title.New()
	}
	if cfg.Program == "" {
		cfg.Program = "herd"
	}

	return &Worker{
		cfg:    cfg,
		cb:     cb,
		sm:     NewStateMachine(),
		logger: logger,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State { return w.sm.State() }

// RequestStop latches the cooperative stop flag. The flag is one-way
// and observed at the top of the next iteration and by the iteration
// sleep.
func (w *Worker) RequestStop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Worker) stopRequested() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// Run executes setup, the iteration loop, and teardown. It returns nil
// on a graceful stop; the process should exit nonzero on a non-nil
// error. Teardown runs exactly once in all paths past construction.
func (w *Worker) Run(ctx context.Context) error {
	if w.cb.Work == nil {
		return errors.New("worker requires a work callback")
	}

	w.startedAt = w.now()
	w.lastBeat = w.startedAt

	if w.cfg.HandleSignals {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGHUP)
		defer signal.Stop(sigCh)

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case sig := <-sigCh:
				w.logger.Info("stop signal received", "signal", sig.String())
				w.RequestStop()
			case <-done:
			}
		}()
	}

	var runErr error
	if w.cb.Setup != nil {
		if err := w.cb.Setup(ctx); err != nil {
			runErr = fmt.Errorf("setup: %w", err)
		}
	}

	if runErr == nil {
		if err := w.sm.Transition(Running); err != nil {
			return err
		}
		w.logger.Info("worker running",
			"parent_pid", w.cfg.ParentPID, "delay", w.cfg.Delay.String())
		runErr = w.loop(ctx)
	}

	_ = w.sm.Transition(Stopping)

	if w.cb.Teardown != nil {
		if err := w.cb.Teardown(ctx); err != nil {
			w.logger.Error("teardown failed", "error", err)
			if runErr == nil {
				runErr = fmt.Errorf("teardown: %w", err)
			}
		}
	}

	_ = w.sm.Transition(Terminated)
	w.logger.Info("worker terminated", "uptime", w.now().Sub(w.startedAt).String())
	return runErr
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if w.stopRequested() || ctx.Err() != nil {
			return nil
		}

		// Orphan check comes first: stopping must not wait for the
		// iteration sleep.
		if err := w.cfg.Probe(w.cfg.ParentPID); err != nil {
			w.logger.Warn("parent unreachable, stopping",
				"parent_pid", w.cfg.ParentPID, "error", err)
			return nil
		}

		mem, memErr := w.cfg.Sampler()
		if memErr != nil {
			w.logger.Debug("memory sample failed", "error", memErr)
		} else {
			if w.cfg.MemoryLimit > 0 && mem >= w.cfg.MemoryLimit {
				w.logger.Warn("memory limit reached, stopping",
					"rss_bytes", mem, "limit_bytes", w.cfg.MemoryLimit)
				return nil
			}
			w.logger.Debug("iteration", "rss_bytes", mem)
		}

		// The heartbeat is a liveness signal in its own right; it keeps
		// firing even when sampling fails.
		if now := w.now(); now.Sub(w.lastBeat) >= w.cfg.Heartbeat {
			w.logger.Info("worker heartbeat",
				"rss_bytes", mem, "uptime", now.Sub(w.startedAt).String())
			w.lastBeat = now
		}

		if now := w.now(); now.Sub(w.lastTitle) >= TitleRefreshInterval || w.lastTitle.IsZero() {
			w.cfg.Titler.Set(title.Format(w.cfg.Program, "worker", mem, w.startedAt))
			w.lastTitle = now
		}

		if err := w.cb.Work(ctx); err != nil {
			return fmt.Errorf("work: %w", err)
		}

		select {
		case <-w.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.Delay):
		}
	}
}
