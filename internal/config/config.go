// Package config handles loading and validating herd configuration.
//
// A config file describes one worker pool. Both TOML and legacy INI
// syntax are accepted; the file extension selects the parser. The
// resulting Config value is immutable after load: it is constructed
// once and passed by reference into the pool and worker constructors.
package config

import "time"

// Config is the top-level herd configuration.
type Config struct {
	Daemon DaemonConfig `toml:"daemon"`
	Worker WorkerConfig `toml:"worker"`
}

// DaemonConfig holds parent-process settings.
type DaemonConfig struct {
	NumWorkers    int    `toml:"num_workers"`
	LogLevel      string `toml:"loglevel"`
	Logfile       string `toml:"logfile"`
	LogFormat     string `toml:"log_format"`
	PIDFile       string `toml:"pidfile"`
	ShutdownWait  int    `toml:"shutdown_wait"`
	TickInterval  int    `toml:"tick_interval"`
	MetricsListen string `toml:"metrics_listen"`
}

// WorkerConfig holds child-process settings.
type WorkerConfig struct {
	Command           string  `toml:"command"`
	LoopInterval      float64 `toml:"loop_interval"`
	MemoryLimit       string  `toml:"memory_limit"`
	HeartbeatInterval int     `toml:"heartbeat_interval"`
}

// ShutdownTimeout returns the graceful drain window.
func (d DaemonConfig) ShutdownTimeout() time.Duration {
	return time.Duration(d.ShutdownWait) * time.Second
}

// Tick returns the control-loop interval.
func (d DaemonConfig) Tick() time.Duration {
	return time.Duration(d.TickInterval) * time.Second
}

// LoopDelay returns the per-iteration worker sleep. Fractional seconds
// are allowed in the config.
func (w WorkerConfig) LoopDelay() time.Duration {
	return time.Duration(w.LoopInterval * float64(time.Second))
}

// MemoryLimitBytes returns the worker memory ceiling in bytes,
// 0 meaning unlimited. The value is validated at load time.
func (w WorkerConfig) MemoryLimitBytes() uint64 {
	n, err := ParseSize(w.MemoryLimit)
	if err != nil {
		return 0
	}
	return n
}

// HeartbeatEvery returns the interval between info-level worker
// heartbeat log records.
func (w WorkerConfig) HeartbeatEvery() time.Duration {
	return time.Duration(w.HeartbeatInterval) * time.Minute
}
