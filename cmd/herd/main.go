package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/herdteam/herd/internal/daemon"
	"github.com/herdteam/herd/internal/logging"
	"github.com/herdteam/herd/internal/pool"
)

var (
	flagConfig   string
	flagLogLevel string
	flagNoDaemon bool
	flagInit     bool
	flagForce    bool
	flagOutput   string
)

var rootCmd = &cobra.Command{
	Use:           "herd",
	Short:         "herd -- worker pool supervision daemon",
	Long:          "Herd keeps a fixed-size pool of identical worker processes alive,\nreplacing them as they exit and guarding against crash loops.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "herd.toml", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "loglevel", "", "override the configured log level")
	rootCmd.Flags().BoolVarP(&flagNoDaemon, "no-daemon", "n", false, "stay in the foreground")
	rootCmd.Flags().BoolVarP(&flagInit, "write-init", "w", false, "write SysV init and logrotate files and exit")
	rootCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite existing files written by --write-init")
	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", ".", "directory for --write-init output")
}

func runRoot(cmd *cobra.Command, args []string) error {
	if flagInit {
		return runWriteInit(cmd)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("cannot determine executable path: %w", err)
	}
	cfgPath, err := filepath.Abs(flagConfig)
	if err != nil {
		return err
	}

	if !flagNoDaemon {
		bootLogger := logging.New(logging.LogConfig{Level: "info", Format: "text"})
		parent, err := daemon.Daemonize(bootLogger)
		if err != nil {
			return err
		}
		if parent {
			return nil
		}
	}

	d, err := daemon.New(daemon.Options{
		ConfigPath: cfgPath,
		LogLevel:   flagLogLevel,
		Template: pool.SpawnConfig{
			Command: exe,
			Args:    workerArgs(cfgPath, flagLogLevel),
		},
	})
	if err != nil {
		return err
	}
	return d.Run()
}

// workerArgs builds the child argv so overrides given to the daemon
// reach the workers too.
func workerArgs(cfgPath, loglevel string) []string {
	args := []string{"worker", "--config", cfgPath}
	if loglevel != "" {
		args = append(args, "--loglevel", loglevel)
	}
	return args
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
