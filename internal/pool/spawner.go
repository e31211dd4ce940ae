package pool

import (
	"os"
	"os/exec"
	"syscall"
)

// SpawnConfig is the recipe for spawning one worker child process.
type SpawnConfig struct {
	Command string   // absolute path or $PATH-resolved binary
	Args    []string // command arguments (not including argv[0])
	Dir     string   // working directory
	Env     []string // environment variables (KEY=VALUE)
}

// SpawnedProcess is an opaque handle to a running child, usable for
// signal delivery. Exits are collected separately by the pool's
// non-blocking reaper.
type SpawnedProcess interface {
	Pid() int
	Signal(os.Signal) error
}

// Spawner creates worker child processes. Implementations include
// ExecSpawner (real) and MockSpawner (testing).
type Spawner interface {
	Spawn(cfg SpawnConfig) (SpawnedProcess, error)
}

// ExecSpawner spawns real OS processes via os/exec.
type ExecSpawner struct{}

type execProcess struct {
	cmd *exec.Cmd
}

// Spawn starts a real child process with the given config. The child is
// placed in the daemon's process group so group-directed signals reach
// it together with the parent.
func (s *ExecSpawner) Spawn(cfg SpawnConfig) (SpawnedProcess, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if cfg.Env != nil {
		cmd.Env = cfg.Env
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &execProcess{cmd: cmd}, nil
}

func (p *execProcess) Pid() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

// MockSpawner is a test double for Spawner.
type MockSpawner struct {
	SpawnFn    func(cfg SpawnConfig) (SpawnedProcess, error)
	SpawnCalls []SpawnConfig
	nextPid    int
}

// Spawn records the call and delegates to SpawnFn.
func (m *MockSpawner) Spawn(cfg SpawnConfig) (SpawnedProcess, error) {
	m.SpawnCalls = append(m.SpawnCalls, cfg)
	if m.SpawnFn != nil {
		return m.SpawnFn(cfg)
	}
	m.nextPid++
	return NewMockProcess(1000 + m.nextPid), nil
}

// MockProcess is a test double for SpawnedProcess. It records every
// signal sent to it.
type MockProcess struct {
	pid     int
	Signals []os.Signal
}

// NewMockProcess creates a MockProcess with the given PID.
func NewMockProcess(pid int) *MockProcess {
	return &MockProcess{pid: pid}
}

func (p *MockProcess) Pid() int { return p.pid }

func (p *MockProcess) Signal(sig os.Signal) error {
	p.Signals = append(p.Signals, sig)
	return nil
}
