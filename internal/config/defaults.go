package config

// unsetLoopInterval marks loop_interval as absent from the file. An
// explicit 0 means no sleep between iterations and must survive
// defaulting.
const unsetLoopInterval = -1

// newConfig seeds the sentinels that distinguish absent keys from
// explicit zeros before decoding.
func newConfig() *Config {
	cfg := &Config{}
	cfg.Worker.LoopInterval = unsetLoopInterval
	return cfg
}

// ApplyDefaults fills in zero-value fields with their default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Daemon.NumWorkers == 0 {
		cfg.Daemon.NumWorkers = 1
	}
	if cfg.Daemon.LogLevel == "" {
		cfg.Daemon.LogLevel = "info"
	}
	if cfg.Daemon.LogFormat == "" {
		cfg.Daemon.LogFormat = "auto"
	}
	if cfg.Daemon.PIDFile == "" {
		cfg.Daemon.PIDFile = "herd.pid"
	}
	if cfg.Daemon.ShutdownWait == 0 {
		cfg.Daemon.ShutdownWait = 10
	}
	if cfg.Daemon.TickInterval == 0 {
		cfg.Daemon.TickInterval = 1
	}

	if cfg.Worker.LoopInterval == unsetLoopInterval {
		cfg.Worker.LoopInterval = 5
	}
	if cfg.Worker.MemoryLimit == "" {
		cfg.Worker.MemoryLimit = "0"
	}
	if cfg.Worker.HeartbeatInterval == 0 {
		cfg.Worker.HeartbeatInterval = 60
	}
}
