package config

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Legacy INI support. Service groups historically shipped one .ini file
// per worker pool; decodeINI maps that syntax onto the same Config value
// the TOML path produces.

// sectionHeaderRe matches [section] headers.
var sectionHeaderRe = regexp.MustCompile(`^\[([a-zA-Z_-]+)\]\s*(?:[;#].*)?$`)

func decodeINI(data []byte) (*Config, []string, error) {
	cfg := newConfig()
	var warnings []string

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	section := ""

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		stripped := stripInlineComment(line)
		trimmed := strings.TrimSpace(stripped)

		// Skip empty lines and pure comment lines.
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, ";") {
			continue
		}

		if matches := sectionHeaderRe.FindStringSubmatch(trimmed); matches != nil {
			section = matches[1]
			if section != "daemon" && section != "worker" {
				warnings = append(warnings, fmt.Sprintf("unknown config section: %s", section))
			}
			continue
		}

		key, value, found := strings.Cut(trimmed, "=")
		if !found {
			return nil, warnings, fmt.Errorf("parse error at line %d: expected key=value, got %q", lineNum, trimmed)
		}
		if section == "" {
			return nil, warnings, fmt.Errorf("parse error at line %d: key-value pair outside of any section", lineNum)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if err := applyINIKey(cfg, section, key, value, &warnings); err != nil {
			return nil, warnings, fmt.Errorf("parse error at line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, warnings, fmt.Errorf("read error: %w", err)
	}

	return cfg, warnings, nil
}

func applyINIKey(cfg *Config, section, key, value string, warnings *[]string) error {
	switch section {
	case "daemon":
		switch key {
		case "num_workers":
			return setInt(&cfg.Daemon.NumWorkers, key, value)
		case "loglevel":
			cfg.Daemon.LogLevel = value
		case "logfile":
			cfg.Daemon.Logfile = value
		case "log_format":
			cfg.Daemon.LogFormat = value
		case "pidfile":
			cfg.Daemon.PIDFile = value
		case "shutdown_wait":
			return setInt(&cfg.Daemon.ShutdownWait, key, value)
		case "tick_interval":
			return setInt(&cfg.Daemon.TickInterval, key, value)
		case "metrics_listen":
			cfg.Daemon.MetricsListen = value
		default:
			*warnings = append(*warnings, "unknown config key: daemon."+key)
		}
	case "worker":
		switch key {
		case "command":
			cfg.Worker.Command = value
		case "loop_interval":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("%s: invalid number %q", key, value)
			}
			cfg.Worker.LoopInterval = f
		case "memory_limit":
			cfg.Worker.MemoryLimit = value
		case "heartbeat_interval":
			return setInt(&cfg.Worker.HeartbeatInterval, key, value)
		default:
			*warnings = append(*warnings, "unknown config key: worker."+key)
		}
	}
	return nil
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, value)
	}
	*dst = n
	return nil
}

// stripInlineComment removes inline comments (;) from a line,
// preserving semicolons inside quoted strings.
func stripInlineComment(line string) string {
	inSingle := false
	inDouble := false
	for i, ch := range line {
		switch ch {
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case ';':
			if !inSingle && !inDouble {
				return line[:i]
			}
		}
	}
	return line
}
