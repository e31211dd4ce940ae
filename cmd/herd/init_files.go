package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/herdteam/herd/internal/config"
	"github.com/herdteam/herd/internal/initscript"
)

// runWriteInit renders a SysV init script and a logrotate snippet from
// the loaded config instead of starting the daemon.
func runWriteInit(cmd *cobra.Command) error {
	cfgPath, err := filepath.Abs(flagConfig)
	if err != nil {
		return err
	}
	cfg, warnings, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot determine executable path: %w", err)
	}

	written, err := initscript.WriteFiles(initscript.FromConfig(exe, cfgPath, cfg), flagOutput, flagForce)
	if err != nil {
		return err
	}
	for _, path := range written {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	}
	return nil
}
