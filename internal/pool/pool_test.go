package pool

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/herdteam/herd/internal/config"
	"github.com/herdteam/herd/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type exitEvent struct{ pid, code int }

// fakeReaper feeds simulated child exits to the pool.
type fakeReaper struct {
	queue []exitEvent
}

func (r *fakeReaper) push(pid, code int) {
	r.queue = append(r.queue, exitEvent{pid, code})
}

func (r *fakeReaper) reap() (int, int, error) {
	if len(r.queue) == 0 {
		return 0, 0, nil
	}
	e := r.queue[0]
	r.queue = r.queue[1:]
	return e.pid, e.code, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

// trackingSpawner records every MockProcess it hands out.
func trackingSpawner() (*MockSpawner, *[]*MockProcess) {
	procs := &[]*MockProcess{}
	s := &MockSpawner{}
	s.SpawnFn = func(cfg SpawnConfig) (SpawnedProcess, error) {
		mp := NewMockProcess(1001 + len(*procs))
		*procs = append(*procs, mp)
		return mp, nil
	}
	return s, procs
}

func testConfig(desired int) *config.Config {
	cfg := &config.Config{}
	cfg.Daemon.NumWorkers = desired
	cfg.Daemon.ShutdownWait = 1
	return cfg
}

func newTestPool(t *testing.T, desired int, spawner Spawner, opts ...Option) (*Pool, *fakeReaper, *fakeClock) {
	t.Helper()

	reaper := &fakeReaper{}
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	base := []Option{
		WithReaper(reaper.reap),
		WithClock(clk.Now),
		WithSleep(func(time.Duration) {}),
	}
	p, err := New(spawner, SpawnConfig{Command: os.Args[0]}, testConfig(desired), testLogger(), append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)
	return p, reaper, clk
}

func TestNewRejectsInvalidTemplates(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "data.txt")
	if err := os.WriteFile(plain, []byte("not a program"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		command string
	}{
		{"empty", ""},
		{"missing path", filepath.Join(dir, "absent")},
		{"not executable", plain},
		{"not in PATH", "herd-no-such-binary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&MockSpawner{}, SpawnConfig{Command: tt.command}, testConfig(1), testLogger())
			if !errors.Is(err, ErrInvalidWorker) {
				t.Fatalf("err = %v, want ErrInvalidWorker", err)
			}
		})
	}
}

func TestTickSpawnsToDesired(t *testing.T) {
	for _, desired := range []int{1, 3, 8} {
		spawner, _ := trackingSpawner()
		p, _, _ := newTestPool(t, desired, spawner)

		if got := p.Tick(); got != Continue {
			t.Fatalf("Tick = %v, want Continue", got)
		}
		if p.Live() != desired {
			t.Fatalf("Live = %d, want %d", p.Live(), desired)
		}

		// Further ticks with no exits are stable.
		p.Tick()
		p.Tick()
		if len(spawner.SpawnCalls) != desired {
			t.Fatalf("spawn calls = %d, want %d", len(spawner.SpawnCalls), desired)
		}
	}
}

func TestSpawnedChildrenGetRunIDs(t *testing.T) {
	spawner, _ := trackingSpawner()
	p, _, _ := newTestPool(t, 2, spawner)
	p.Tick()

	seen := map[string]bool{}
	for _, rec := range p.RecordsInOrder() {
		if rec.RunID == "" {
			t.Fatal("record missing run ID")
		}
		seen[rec.RunID] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 distinct run IDs, got %d", len(seen))
	}

	for _, call := range spawner.SpawnCalls {
		found := false
		for _, kv := range call.Env {
			if strings.HasPrefix(kv, "HERD_WORKER_ID=") {
				found = true
			}
		}
		if !found {
			t.Fatal("spawn env missing HERD_WORKER_ID")
		}
	}
}

func TestReapRemovesExactlyThatRecord(t *testing.T) {
	spawner, _ := trackingSpawner()
	p, reaper, clk := newTestPool(t, 3, spawner)
	p.Tick()

	clk.advance(5 * time.Second)
	reaper.push(1002, 0)
	p.Tick()

	// 1002 was reaped and one replacement spawned.
	if p.Live() != 3 {
		t.Fatalf("Live = %d, want 3", p.Live())
	}
	for _, rec := range p.RecordsInOrder() {
		if rec.PID == 1002 {
			t.Fatal("reaped record still tracked")
		}
	}
	if len(spawner.SpawnCalls) != 4 {
		t.Fatalf("spawn calls = %d, want 4", len(spawner.SpawnCalls))
	}
}

func TestReapUnknownPidIsNoop(t *testing.T) {
	spawner, _ := trackingSpawner()
	p, reaper, _ := newTestPool(t, 2, spawner)
	p.Tick()

	reaper.push(9999, 0)
	p.Tick()

	if p.Live() != 2 {
		t.Fatalf("Live = %d, want 2", p.Live())
	}
	if p.QuickExits() != 0 {
		t.Fatalf("QuickExits = %d, want 0", p.QuickExits())
	}
}

func TestCullOldestRegisteredFirst(t *testing.T) {
	spawner, procs := trackingSpawner()
	p, reaper, clk := newTestPool(t, 1, spawner)
	p.Tick() // spawns 1001

	clk.advance(10 * time.Second)
	p.SetDesired(3)
	p.Tick() // spawns 1002, 1003

	p.SetDesired(2)
	p.Tick()

	// The record with the smallest spawned_at gets the termination
	// signal; bookkeeping stays lazy until the exit is reaped.
	if p.Live() != 3 {
		t.Fatalf("Live = %d, want 3 before reap", p.Live())
	}
	oldest := (*procs)[0]
	if len(oldest.Signals) != 1 || oldest.Signals[0] != syscall.SIGTERM {
		t.Fatalf("oldest signals = %v, want [SIGTERM]", oldest.Signals)
	}
	for _, mp := range (*procs)[1:] {
		if len(mp.Signals) != 0 {
			t.Fatalf("younger child was signaled: %v", mp.Signals)
		}
	}

	clk.advance(10 * time.Second)
	reaper.push(oldest.Pid(), 0)
	p.Tick()
	if p.Live() != 2 {
		t.Fatalf("Live = %d, want 2 after reap", p.Live())
	}
}

func TestQuickExitStreakTriggersRunawayStop(t *testing.T) {
	spawner, _ := trackingSpawner()
	p, reaper, _ := newTestPool(t, 1, spawner)

	bus := events.NewBus(testLogger())
	runaway := false
	bus.Subscribe(events.RunawayDetected, func(events.Event) { runaway = true })
	WithBus(bus)(p)

	for i := 0; i < RunawayLimit; i++ {
		if got := p.Tick(); got != Continue {
			t.Fatalf("tick %d = %v, want Continue", i, got)
		}
		recs := p.RecordsInOrder()
		if len(recs) != 1 {
			t.Fatalf("tick %d: Live = %d, want 1", i, len(recs))
		}
		// Child dies immediately (age 0 <= threshold).
		reaper.push(recs[0].PID, 1)
	}

	if got := p.Tick(); got != Stop {
		t.Fatalf("Tick = %v, want Stop after %d quick exits", got, RunawayLimit)
	}
	if !p.Exiting() {
		t.Fatal("pool should be exiting")
	}
	if !runaway {
		t.Fatal("RunawayDetected event not published")
	}
	if !errors.Is(p.Err(), ErrRunaway) {
		t.Fatalf("Err = %v, want ErrRunaway", p.Err())
	}
}

func TestSlowExitResetsQuickStreak(t *testing.T) {
	spawner, _ := trackingSpawner()
	p, reaper, clk := newTestPool(t, 1, spawner)

	// A few quick exits...
	for i := 0; i < 5; i++ {
		p.Tick()
		reaper.push(p.RecordsInOrder()[0].PID, 1)
	}
	p.Tick()
	if p.QuickExits() != 5 {
		t.Fatalf("QuickExits = %d, want 5", p.QuickExits())
	}

	// ...then one child survives past the threshold. Even a nonzero
	// exit proves the pool is not crash-looping.
	clk.advance(2 * time.Second)
	reaper.push(p.RecordsInOrder()[0].PID, 1)
	p.Tick()

	if p.QuickExits() != 0 {
		t.Fatalf("QuickExits = %d, want 0 after slow exit", p.QuickExits())
	}
}

func TestSpawnFailureIsFatal(t *testing.T) {
	calls := 0
	spawner := &MockSpawner{
		SpawnFn: func(cfg SpawnConfig) (SpawnedProcess, error) {
			calls++
			if calls >= 2 {
				return nil, errors.New("fork: resource temporarily unavailable")
			}
			return NewMockProcess(2000 + calls), nil
		},
	}
	p, _, _ := newTestPool(t, 3, spawner)

	if got := p.Tick(); got != Stop {
		t.Fatalf("Tick = %v, want Stop on spawn failure", got)
	}
	if !p.Exiting() {
		t.Fatal("pool should be exiting after fatal spawn failure")
	}
	// The spawn loop aborted: no third attempt.
	if calls != 2 {
		t.Fatalf("spawn attempts = %d, want 2", calls)
	}
	if !errors.Is(p.Err(), ErrSpawnFailed) {
		t.Fatalf("Err = %v, want ErrSpawnFailed", p.Err())
	}
}

func TestShutdownDrainsGracefully(t *testing.T) {
	spawner, procs := trackingSpawner()
	p, reaper, _ := newTestPool(t, 3, spawner)
	p.Tick()

	// Children exit during the first drain poll.
	WithSleep(func(time.Duration) {
		for _, mp := range *procs {
			reaper.push(mp.Pid(), 0)
		}
	})(p)

	p.Shutdown()

	if p.Live() != 0 {
		t.Fatalf("Live = %d, want 0 after drain", p.Live())
	}
	for _, mp := range *procs {
		if len(mp.Signals) != 1 || mp.Signals[0] != syscall.SIGTERM {
			t.Fatalf("signals = %v, want graceful termination only", mp.Signals)
		}
	}
	if got := p.Tick(); got != Stop {
		t.Fatalf("Tick = %v, want Stop after shutdown", got)
	}
}

func TestShutdownEscalatesToKill(t *testing.T) {
	spawner, procs := trackingSpawner()
	p, _, _ := newTestPool(t, 2, spawner)
	p.Tick()

	// Children ignore the graceful signal and are never reaped.
	p.Shutdown()

	for _, mp := range *procs {
		if len(mp.Signals) != 2 || mp.Signals[0] != syscall.SIGTERM || mp.Signals[1] != syscall.SIGKILL {
			t.Fatalf("signals = %v, want [SIGTERM SIGKILL]", mp.Signals)
		}
	}
	if p.Live() != 0 {
		t.Fatalf("Live = %d, want 0 after abandoning killed children", p.Live())
	}
}

func TestRestartAllReplenishesWithoutExiting(t *testing.T) {
	spawner, procs := trackingSpawner()
	p, reaper, _ := newTestPool(t, 2, spawner)
	p.Tick()

	WithSleep(func(time.Duration) {
		for _, mp := range (*procs)[:2] {
			reaper.push(mp.Pid(), 0)
		}
	})(p)

	p.RestartAll()

	if p.Exiting() {
		t.Fatal("rolling restart must not latch exiting")
	}
	if p.Live() != 0 {
		t.Fatalf("Live = %d, want 0 right after restart", p.Live())
	}
	// Exits during the restart wait never feed runaway detection.
	if p.QuickExits() != 0 {
		t.Fatalf("QuickExits = %d, want 0", p.QuickExits())
	}

	if got := p.Tick(); got != Continue {
		t.Fatalf("Tick = %v, want Continue", got)
	}
	if p.Live() != 2 {
		t.Fatalf("Live = %d, want 2 after replenish", p.Live())
	}
	if len(spawner.SpawnCalls) != 4 {
		t.Fatalf("spawn calls = %d, want 4", len(spawner.SpawnCalls))
	}
}

func TestSetDesiredIgnoredWhileExiting(t *testing.T) {
	spawner, _ := trackingSpawner()
	p, _, _ := newTestPool(t, 1, spawner)
	p.Tick()
	p.Shutdown()

	p.SetDesired(5)
	if p.Desired() != 1 {
		t.Fatalf("Desired = %d, want 1 (unchanged while exiting)", p.Desired())
	}
	if got := p.Tick(); got != Stop {
		t.Fatalf("Tick = %v, want Stop", got)
	}
}

func TestPoolPublishesLifecycleEvents(t *testing.T) {
	bus := events.NewBus(testLogger())
	var spawned, reaped int
	bus.Subscribe(events.WorkerSpawned, func(events.Event) { spawned++ })
	bus.Subscribe(events.WorkerReaped, func(events.Event) { reaped++ })

	spawner, _ := trackingSpawner()
	p, reaper, clk := newTestPool(t, 2, spawner, WithBus(bus))
	p.Tick()

	clk.advance(3 * time.Second)
	reaper.push(1001, 0)
	p.Tick()

	if spawned != 3 {
		t.Fatalf("spawned events = %d, want 3", spawned)
	}
	if reaped != 1 {
		t.Fatalf("reaped events = %d, want 1", reaped)
	}
}
