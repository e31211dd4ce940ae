package config

import (
	"fmt"
	"strings"
)

// validLogLevels lists the supported loglevel values.
var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// validLogFormats lists the supported log_format values.
var validLogFormats = map[string]bool{
	"json": true, "text": true, "auto": true,
}

// Validate checks the config for semantic errors and returns all of them.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.Daemon.NumWorkers < 1 {
		errs = append(errs, fmt.Errorf("daemon.num_workers must be >= 1, got %d", cfg.Daemon.NumWorkers))
	}
	if !validLogLevels[strings.ToLower(cfg.Daemon.LogLevel)] {
		errs = append(errs, fmt.Errorf("daemon.loglevel must be debug, info, warn, or error, got %q", cfg.Daemon.LogLevel))
	}
	if !validLogFormats[strings.ToLower(cfg.Daemon.LogFormat)] {
		errs = append(errs, fmt.Errorf("daemon.log_format must be json, text, or auto, got %q", cfg.Daemon.LogFormat))
	}
	if cfg.Daemon.ShutdownWait < 1 {
		errs = append(errs, fmt.Errorf("daemon.shutdown_wait must be >= 1, got %d", cfg.Daemon.ShutdownWait))
	}
	if cfg.Daemon.TickInterval < 1 {
		errs = append(errs, fmt.Errorf("daemon.tick_interval must be >= 1, got %d", cfg.Daemon.TickInterval))
	}

	if strings.TrimSpace(cfg.Worker.Command) == "" {
		errs = append(errs, fmt.Errorf("worker.command is required"))
	}
	if cfg.Worker.LoopInterval < 0 {
		errs = append(errs, fmt.Errorf("worker.loop_interval must be >= 0, got %v", cfg.Worker.LoopInterval))
	}
	if _, err := ParseSize(cfg.Worker.MemoryLimit); err != nil {
		errs = append(errs, fmt.Errorf("worker.memory_limit: %w", err))
	}
	if cfg.Worker.HeartbeatInterval < 1 {
		errs = append(errs, fmt.Errorf("worker.heartbeat_interval must be >= 1, got %d", cfg.Worker.HeartbeatInterval))
	}

	return errs
}
