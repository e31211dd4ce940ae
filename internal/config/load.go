package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrNotFound indicates the config file does not exist. It is raised
// before any pool construction happens.
var ErrNotFound = errors.New("config file not found")

// Load reads a config file, applies defaults, validates, and returns the
// config along with any warnings (e.g. unknown keys). Files ending in
// .ini are parsed with the legacy INI syntax; everything else is TOML.
func Load(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, nil, fmt.Errorf("cannot read config: %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".ini") {
		return LoadINIBytes(data, path)
	}
	return LoadBytes(data, path)
}

// LoadBytes parses TOML from raw bytes. The path argument is used only
// for error messages.
func LoadBytes(data []byte, path string) (*Config, []string, error) {
	cfg := newConfig()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("config parse error in %s: %w", path, err)
	}

	// Collect warnings for unknown fields.
	var warnings []string
	for _, key := range md.Undecoded() {
		warnings = append(warnings, fmt.Sprintf("unknown config key: %s", strings.Join(key, ".")))
	}

	return finishLoad(cfg, warnings, path)
}

// LoadINIBytes parses legacy INI syntax from raw bytes.
func LoadINIBytes(data []byte, path string) (*Config, []string, error) {
	cfg, warnings, err := decodeINI(data)
	if err != nil {
		return nil, nil, fmt.Errorf("config parse error in %s: %w", path, err)
	}
	return finishLoad(cfg, warnings, path)
}

func finishLoad(cfg *Config, warnings []string, path string) (*Config, []string, error) {
	ApplyDefaults(cfg)

	if errs := Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, warnings, fmt.Errorf("config validation failed in %s:\n  %s",
			path, strings.Join(msgs, "\n  "))
	}

	return cfg, warnings, nil
}
