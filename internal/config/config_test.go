package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalTOML = `
[worker]
command = "/bin/true"
`

func TestLoadBytesDefaults(t *testing.T) {
	cfg, warnings, err := LoadBytes([]byte(minimalTOML), "test.toml")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	if cfg.Daemon.NumWorkers != 1 {
		t.Errorf("num_workers = %d, want 1", cfg.Daemon.NumWorkers)
	}
	if cfg.Daemon.LogLevel != "info" {
		t.Errorf("loglevel = %q, want info", cfg.Daemon.LogLevel)
	}
	if cfg.Daemon.ShutdownWait != 10 {
		t.Errorf("shutdown_wait = %d, want 10", cfg.Daemon.ShutdownWait)
	}
	if cfg.Worker.LoopInterval != 5 {
		t.Errorf("loop_interval = %v, want 5", cfg.Worker.LoopInterval)
	}
	if cfg.Worker.HeartbeatInterval != 60 {
		t.Errorf("heartbeat_interval = %d, want 60", cfg.Worker.HeartbeatInterval)
	}
}

func TestLoadBytesUnknownKeyWarning(t *testing.T) {
	data := minimalTOML + "\n[daemon]\nbogus = 1\n"
	_, warnings, err := LoadBytes([]byte(data), "test.toml")
	if err != nil {
		t.Fatal(err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "daemon.bogus") {
		t.Fatalf("warnings = %v, want unknown key warning", warnings)
	}
}

func TestLoadBytesMissingCommand(t *testing.T) {
	_, _, err := LoadBytes([]byte("[daemon]\nnum_workers = 2\n"), "test.toml")
	if err == nil || !strings.Contains(err.Error(), "worker.command is required") {
		t.Fatalf("err = %v, want missing command error", err)
	}
}

func TestLoadNotFound(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadDispatchINI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herd.ini")
	data := "[daemon]\nnum_workers = 3\nloglevel = debug\n\n[worker]\ncommand = /bin/true\nloop_interval = 0.5\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Daemon.NumWorkers != 3 {
		t.Errorf("num_workers = %d, want 3", cfg.Daemon.NumWorkers)
	}
	if cfg.Daemon.LogLevel != "debug" {
		t.Errorf("loglevel = %q, want debug", cfg.Daemon.LogLevel)
	}
	if cfg.Worker.LoopDelay() != 500*time.Millisecond {
		t.Errorf("LoopDelay = %v, want 500ms", cfg.Worker.LoopDelay())
	}
}

func TestZeroLoopIntervalPreserved(t *testing.T) {
	data := "[worker]\ncommand = \"/bin/true\"\nloop_interval = 0.0\n"
	cfg, _, err := LoadBytes([]byte(data), "test.toml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Worker.LoopInterval != 0 {
		t.Fatalf("loop_interval = %v, want explicit 0", cfg.Worker.LoopInterval)
	}
	if cfg.Worker.LoopDelay() != 0 {
		t.Fatalf("LoopDelay = %v, want 0", cfg.Worker.LoopDelay())
	}

	ini := "[worker]\ncommand = /bin/true\nloop_interval = 0\n"
	cfg, _, err = LoadINIBytes([]byte(ini), "test.ini")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Worker.LoopInterval != 0 {
		t.Fatalf("ini loop_interval = %v, want explicit 0", cfg.Worker.LoopInterval)
	}
}

func TestWorkerHelpers(t *testing.T) {
	w := WorkerConfig{LoopInterval: 1.5, MemoryLimit: "64MB", HeartbeatInterval: 30}

	if w.LoopDelay() != 1500*time.Millisecond {
		t.Errorf("LoopDelay = %v, want 1.5s", w.LoopDelay())
	}
	if w.MemoryLimitBytes() != 64*1024*1024 {
		t.Errorf("MemoryLimitBytes = %d, want 64MB", w.MemoryLimitBytes())
	}
	if w.HeartbeatEvery() != 30*time.Minute {
		t.Errorf("HeartbeatEvery = %v, want 30m", w.HeartbeatEvery())
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Daemon: DaemonConfig{NumWorkers: -1, LogLevel: "verbose", LogFormat: "xml", ShutdownWait: 10, TickInterval: 1},
		Worker: WorkerConfig{Command: "", LoopInterval: 1, MemoryLimit: "lots", HeartbeatInterval: 60},
	}

	errs := Validate(cfg)
	if len(errs) != 5 {
		t.Fatalf("got %d errors, want 5: %v", len(errs), errs)
	}
}
