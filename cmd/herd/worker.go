package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/herdteam/herd/internal/config"
	"github.com/herdteam/herd/internal/logging"
	"github.com/herdteam/herd/internal/worker"
)

// workerCmd is the hidden child role. The daemon re-execs its own
// binary with this subcommand for every pool slot.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one worker process (spawned by the daemon)",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, warnings, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		cfg.Daemon.LogLevel = flagLogLevel
	}

	logger, logFile, err := workerLogger(cfg)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}
	for _, w := range warnings {
		logger.Warn("config warning", "warning", w)
	}

	w := worker.New(worker.Config{
		Program:       "herd",
		Delay:         cfg.Worker.LoopDelay(),
		MemoryLimit:   cfg.Worker.MemoryLimitBytes(),
		Heartbeat:     cfg.Worker.HeartbeatEvery(),
		HandleSignals: true,
	}, worker.Callbacks{
		Work: workCommand(cfg.Worker.Command, logger),
	}, logger)

	return w.Run(cmd.Context())
}

// workCommand runs the configured command once per loop iteration. A
// nonzero exit from the command is the command's own business and only
// logged; failing to start it at all is fatal.
func workCommand(command string, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return fmt.Errorf("empty worker command")
		}

		cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		err := cmd.Run()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Warn("work command exited with error",
				"command", fields[0], "exit_code", exitErr.ExitCode())
			return nil
		}
		if err != nil {
			return fmt.Errorf("cannot run work command %s: %w", fields[0], err)
		}
		return nil
	}
}

// workerLogger builds the child-side logger. Workers share the daemon's
// log sink: with a configured logfile they append to the same file (the
// stderr they inherit points at /dev/null once the daemon detaches);
// otherwise they write to the inherited stderr. Run correlation comes
// from the id the daemon put in the environment at spawn time.
func workerLogger(cfg *config.Config) (*slog.Logger, *logging.FileWriter, error) {
	var out io.Writer = os.Stderr
	var fw *logging.FileWriter
	if cfg.Daemon.Logfile != "" {
		var err error
		fw, err = logging.NewFileWriter(cfg.Daemon.Logfile)
		if err != nil {
			return nil, nil, err
		}
		out = fw
	}

	format := cfg.Daemon.LogFormat
	if format == "" || strings.EqualFold(format, "auto") {
		if fw == nil && term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		} else {
			format = "json"
		}
	}

	logger := logging.New(logging.LogConfig{
		Level:  cfg.Daemon.LogLevel,
		Format: format,
		Output: out,
	})
	logger = logger.With("role", "worker", "pid", os.Getpid())
	if id := os.Getenv("HERD_WORKER_ID"); id != "" {
		logger = logger.With("run_id", id)
	}
	return logger, fw, nil
}
