// Package pool implements the worker pool supervisor: the parent-side
// component that keeps a configured number of worker child processes
// alive, reaps exits, guards against crash loops, and drives graceful
// or forceful shutdown.
package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/herdteam/herd/internal/config"
	"github.com/herdteam/herd/internal/events"
)

// Directive tells the control loop whether to keep ticking.
type Directive int

const (
	Continue Directive = iota
	Stop
)

const (
	// RunawayLimit is the number of consecutive quick exits that is
	// treated as a crash loop and stops the daemon.
	RunawayLimit = 10

	// QuickExitThreshold is the maximum age at which a reaped child
	// counts toward runaway detection.
	QuickExitThreshold = time.Second
)

var (
	// ErrInvalidWorker indicates the worker template cannot produce a
	// runnable child process.
	ErrInvalidWorker = errors.New("invalid worker template")

	// ErrSpawnFailed indicates the OS could not create a child process.
	// Spawn failure is fatal to the whole daemon.
	ErrSpawnFailed = errors.New("worker spawn failed")

	// ErrRunaway indicates the consecutive quick-exit limit was hit.
	ErrRunaway = errors.New("runaway forking detected")
)

// Record tracks one live worker child. Records are owned exclusively by
// the pool: created on successful spawn, removed on reap.
type Record struct {
	PID       int
	RunID     string
	SpawnedAt time.Time

	handle SpawnedProcess
}

// Pool supervises the set of live worker children. It is not safe for
// concurrent use; the daemon control loop is its single caller.
type Pool struct {
	spawner  Spawner
	template SpawnConfig
	desired  int

	records map[int]*Record
	order   []int // pids in spawn order, oldest first

	quickExits int
	exiting    bool
	fatal      error

	shutdownWait time.Duration
	drainPoll    time.Duration

	reap  ReapFunc
	now   func() time.Time
	sleep func(time.Duration)

	signals *SignalQueue
	bus     *events.Bus
	logger  *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithBus attaches an event bus for lifecycle notifications.
func WithBus(bus *events.Bus) Option {
	return func(p *Pool) { p.bus = bus }
}

// WithReaper overrides the non-blocking child reaper.
func WithReaper(fn ReapFunc) Option {
	return func(p *Pool) { p.reap = fn }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(p *Pool) { p.now = fn }
}

// WithSleep overrides the drain poll sleep.
func WithSleep(fn func(time.Duration)) Option {
	return func(p *Pool) { p.sleep = fn }
}

// New creates a pool supervisor from a worker template and a read-only
// configuration view. It validates that the template can produce a
// runnable child, makes the daemon a process-group leader so signals
// aimed at the group reach it distinctly from its own parent, and
// registers the signal queue consumed by the control loop.
func New(spawner Spawner, template SpawnConfig, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Pool, error) {
	if err := validateTemplate(template); err != nil {
		return nil, err
	}

	p := &Pool{
		spawner:      spawner,
		template:     template,
		desired:      cfg.Daemon.NumWorkers,
		records:      make(map[int]*Record),
		shutdownWait: cfg.Daemon.ShutdownTimeout(),
		drainPoll:    time.Second,
		reap:         reapChild,
		now:          time.Now,
		sleep:        time.Sleep,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}

	// Best effort: fails with EPERM when already a group leader.
	_ = syscall.Setpgid(0, 0)

	p.signals = NewSignalQueue()
	return p, nil
}

// validateTemplate rejects recipes that cannot produce a runnable child.
func validateTemplate(t SpawnConfig) error {
	cmd := strings.TrimSpace(t.Command)
	if cmd == "" {
		return fmt.Errorf("%w: empty command", ErrInvalidWorker)
	}

	if strings.ContainsRune(cmd, '/') {
		info, err := os.Stat(cmd)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidWorker, cmd, err)
		}
		if info.IsDir() || info.Mode()&0111 == 0 {
			return fmt.Errorf("%w: %s is not executable", ErrInvalidWorker, cmd)
		}
		return nil
	}

	if _, err := exec.LookPath(cmd); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidWorker, cmd, err)
	}
	return nil
}

// Signals returns the queue of OS signals the control loop dispatches.
func (p *Pool) Signals() *SignalQueue { return p.signals }

// Desired returns the configured worker count.
func (p *Pool) Desired() int { return p.desired }

// SetDesired changes the worker count reconciled on the next tick.
// Ignored once the pool is draining.
func (p *Pool) SetDesired(n int) {
	if p.exiting || n < 0 {
		return
	}
	p.desired = n
}

// Live returns the number of tracked worker children.
func (p *Pool) Live() int { return len(p.order) }

// QuickExits returns the current consecutive quick-exit count.
func (p *Pool) QuickExits() int { return p.quickExits }

// Exiting reports whether the pool has begun draining.
func (p *Pool) Exiting() bool { return p.exiting }

// Err returns the fatal condition that stopped the pool, nil for an
// operator-requested shutdown.
func (p *Pool) Err() error { return p.fatal }

// RecordsInOrder returns the tracked children in spawn order, oldest first.
func (p *Pool) RecordsInOrder() []*Record {
	out := make([]*Record, 0, len(p.order))
	for _, pid := range p.order {
		out = append(out, p.records[pid])
	}
	return out
}

// Tick runs one reconciliation pass and reports whether the control
// loop should continue. Ordinary ticks never block: reaping is a
// non-blocking poll and spawning does not wait on children.
func (p *Pool) Tick() Directive {
	if p.exiting {
		return Stop
	}

	p.reconcile()

	if p.quickExits >= RunawayLimit {
		p.logger.Error("runaway forking detected, stopping daemon",
			"quick_exits", p.quickExits, "limit", RunawayLimit)
		p.publish(events.RunawayDetected, map[string]string{
			"quick_exits": strconv.Itoa(p.quickExits),
		})
		p.fatal = fmt.Errorf("%w: %d consecutive exits within %s",
			ErrRunaway, p.quickExits, QuickExitThreshold)
		p.Shutdown()
		return Stop
	}

	current := len(p.order)
	switch {
	case current < p.desired:
		for i := current; i < p.desired; i++ {
			if err := p.spawnOne(); err != nil {
				p.logger.Error("spawn failed, stopping daemon", "error", err)
				p.fatal = err
				p.Shutdown()
				return Stop
			}
		}
	case current > p.desired:
		p.cull(current - p.desired)
	}

	return Continue
}

// reconcile reaps every already-exited child and updates the
// quick-exit accounting.
func (p *Pool) reconcile() {
	for {
		pid, code, err := p.reap()
		if err != nil || pid <= 0 {
			return
		}
		p.noteExit(pid, code, true)
	}
}

// noteExit removes the record for a reaped pid. Unknown pids are a
// no-op beyond a warning. countQuick is false during drain and restart
// waits, where the runaway guard no longer applies.
func (p *Pool) noteExit(pid, code int, countQuick bool) {
	rec, ok := p.records[pid]
	if !ok {
		p.logger.Warn("reaped unknown child", "pid", pid, "exit_code", code)
		return
	}

	age := p.now().Sub(rec.SpawnedAt)
	if countQuick {
		if age <= QuickExitThreshold {
			p.quickExits++
		} else {
			// A child that outlived the threshold proves the pool is
			// not crash-looping, regardless of exit status.
			p.quickExits = 0
		}
	}

	if code == 0 {
		p.logger.Info("worker exited", "pid", pid, "run_id", rec.RunID, "age", age.String())
	} else {
		p.logger.Warn("worker exited with error",
			"pid", pid, "run_id", rec.RunID, "exit_code", code, "age", age.String())
	}

	delete(p.records, pid)
	for i, id := range p.order {
		if id == pid {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}

	p.publish(events.WorkerReaped, map[string]string{
		"pid":       strconv.Itoa(pid),
		"run_id":    rec.RunID,
		"exit_code": strconv.Itoa(code),
	})
}

func (p *Pool) spawnOne() error {
	runID := uuid.NewString()

	cfg := p.template
	env := cfg.Env
	if env == nil {
		env = os.Environ()
	}
	cfg.Env = append(append([]string(nil), env...), "HERD_WORKER_ID="+runID)

	handle, err := p.spawner.Spawn(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	pid := handle.Pid()
	p.records[pid] = &Record{
		PID:       pid,
		RunID:     runID,
		SpawnedAt: p.now(),
		handle:    handle,
	}
	p.order = append(p.order, pid)

	p.logger.Info("worker spawned", "pid", pid, "run_id", runID)
	p.publish(events.WorkerSpawned, map[string]string{
		"pid":    strconv.Itoa(pid),
		"run_id": runID,
	})
	return nil
}

// cull sends a graceful termination signal to the n oldest-registered
// children. Bookkeeping is updated lazily when the exits are reaped on
// a later tick.
func (p *Pool) cull(n int) {
	victims := make([]int, n)
	copy(victims, p.order[:n])

	for _, pid := range victims {
		rec := p.records[pid]
		p.logger.Info("culling surplus worker", "pid", pid, "run_id", rec.RunID)
		if err := rec.handle.Signal(syscall.SIGTERM); err != nil {
			p.logger.Warn("cull signal failed", "pid", pid, "error", err)
		}
		p.publish(events.WorkerCulled, map[string]string{
			"pid":    strconv.Itoa(pid),
			"run_id": rec.RunID,
		})
	}
}

// RestartAll performs a rolling restart: every current child is asked
// to terminate gracefully and the pool waits (bounded) for the exits,
// but the pool stays live and later ticks replenish it to the desired
// count. Children that outlive the wait are replaced whenever their
// exit is finally reaped.
func (p *Pool) RestartAll() {
	if p.exiting {
		return
	}

	p.logger.Info("rolling restart requested", "workers", len(p.order))
	p.publish(events.PoolRestarting, map[string]string{
		"workers": strconv.Itoa(len(p.order)),
	})

	p.signalAll(syscall.SIGTERM)
	p.awaitExits(p.shutdownWait)

	if len(p.order) > 0 {
		p.logger.Warn("workers still running after restart wait",
			"remaining", len(p.order))
	}
}

// Shutdown latches the pool into the exiting state and drains it:
// graceful termination first, then a non-catchable kill for children
// that outlive the configured wait. The drain is synchronous; no other
// pool work can proceed during shutdown.
func (p *Pool) Shutdown() {
	if p.exiting {
		return
	}
	p.exiting = true

	p.logger.Info("draining pool", "workers", len(p.order),
		"wait", p.shutdownWait.String())
	p.publish(events.PoolDraining, map[string]string{
		"workers": strconv.Itoa(len(p.order)),
	})

	p.signalAll(syscall.SIGTERM)
	p.awaitExits(p.shutdownWait)

	if len(p.order) > 0 {
		pids := append([]int(nil), p.order...)
		p.logger.Warn("escalating to SIGKILL", "pids", pids)
		p.signalAll(syscall.SIGKILL)
		p.awaitExits(2 * p.drainPoll)
	}

	// Anything left was killed but not yet reaped; drop the records so
	// the daemon can exit.
	for _, pid := range append([]int(nil), p.order...) {
		p.logger.Warn("abandoning unreaped child", "pid", pid)
		delete(p.records, pid)
	}
	p.order = p.order[:0]

	p.logger.Info("pool drained")
	p.publish(events.PoolStopped, nil)
}

func (p *Pool) signalAll(sig syscall.Signal) {
	for _, pid := range p.order {
		if err := p.records[pid].handle.Signal(sig); err != nil {
			p.logger.Warn("signal failed", "pid", pid, "signal", sig.String(), "error", err)
		}
	}
}

// awaitExits polls for exits at drainPoll granularity for up to limit.
// Exits collected here do not count toward runaway detection.
func (p *Pool) awaitExits(limit time.Duration) {
	attempts := int(limit / p.drainPoll)
	for i := 0; ; i++ {
		for {
			pid, code, err := p.reap()
			if err != nil || pid <= 0 {
				break
			}
			p.noteExit(pid, code, false)
		}
		if len(p.order) == 0 || i >= attempts {
			return
		}
		p.sleep(p.drainPoll)
	}
}

// Close releases the signal queue.
func (p *Pool) Close() {
	if p.signals != nil {
		p.signals.Stop()
	}
}

func (p *Pool) publish(t events.EventType, data map[string]string) {
	if p.bus == nil {
		return
	}
	if data == nil {
		data = map[string]string{}
	}
	p.bus.Publish(events.Event{Type: t, Data: data})
}
