// Package daemon assembles the herd parent process: configuration,
// logging, metrics, the event bus, and the pool control loop.
package daemon

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/herdteam/herd/internal/config"
	"github.com/herdteam/herd/internal/events"
	"github.com/herdteam/herd/internal/logging"
	"github.com/herdteam/herd/internal/metrics"
	"github.com/herdteam/herd/internal/pool"
	"github.com/herdteam/herd/internal/version"
)

// Options configures daemon construction.
type Options struct {
	ConfigPath string
	Template   pool.SpawnConfig // recipe for worker children

	LogLevel string // overrides the config loglevel when non-empty

	// Test seams. Nil selects the real implementations.
	Spawner     pool.Spawner
	PoolOptions []pool.Option
}

// Daemon is the parent-side controller. A single goroutine owns it; the
// control loop in Run is the only caller into the pool.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	logFile   *logging.FileWriter
	bus       *events.Bus
	collector *metrics.Collector
	pool      *pool.Pool

	metricsSrv *http.Server
	startedAt  time.Time

	// stopRequested distinguishes an operator shutdown from the pool
	// stopping itself after a fatal condition.
	stopRequested bool
}

// New loads configuration and wires up the daemon. The pool signal
// queue is registered here; Run consumes it.
func New(opts Options) (*Daemon, error) {
	cfg, warnings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Daemon.LogLevel = opts.LogLevel
	}

	logger, logFile, err := buildLogger(cfg)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logger.Warn("config warning", "warning", w)
	}

	bus := events.NewBus(logger)
	collector := metrics.New()
	collector.SetBuildInfo(version.Version, runtime.Version())
	wireMetrics(bus, collector)

	spawner := opts.Spawner
	if spawner == nil {
		spawner = &pool.ExecSpawner{}
	}
	poolOpts := append([]pool.Option{pool.WithBus(bus)}, opts.PoolOptions...)

	p, err := pool.New(spawner, opts.Template, cfg, logger, poolOpts...)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, err
	}

	return &Daemon{
		cfg:       cfg,
		logger:    logger,
		logFile:   logFile,
		bus:       bus,
		collector: collector,
		pool:      p,
	}, nil
}

// Logger returns the daemon logger.
func (d *Daemon) Logger() *slog.Logger { return d.logger }

// Config returns the loaded configuration.
func (d *Daemon) Config() *config.Config { return d.cfg }

// Pool returns the worker pool.
func (d *Daemon) Pool() *pool.Pool { return d.pool }

// Run executes the control loop until shutdown. It returns an error
// when the pool stopped itself, so the process exits nonzero on
// runaway forking or spawn failure.
func (d *Daemon) Run() error {
	pf, err := AcquirePIDFile(d.cfg.Daemon.PIDFile)
	if err != nil {
		return err
	}
	defer pf.Release()
	defer d.Close()

	d.startedAt = time.Now()
	d.startMetricsServer()
	defer d.stopMetricsServer()

	if os.Getuid() == 0 {
		d.logger.Warn("running as root; consider a dedicated user")
	}
	d.logger.Info("herd running",
		"pid", os.Getpid(), "workers", d.pool.Desired(),
		"version", version.Version)

	ticker := time.NewTicker(d.cfg.Daemon.Tick())
	defer ticker.Stop()

	directive := d.pool.Tick()
	d.updateGauges()

	for directive == pool.Continue {
		select {
		case sig := <-d.pool.Signals().C:
			var stop bool
			stop, directive = d.handleSignal(sig)
			if stop {
				d.stopRequested = true
				d.pool.Shutdown()
				directive = pool.Stop
			}
		case <-ticker.C:
			directive = d.pool.Tick()
		}
		d.updateGauges()
	}

	d.logger.Info("herd stopped")
	if !d.stopRequested {
		if err := d.pool.Err(); err != nil {
			return err
		}
		return errors.New("pool stopped unexpectedly")
	}
	return nil
}

// handleSignal reacts to one queued signal. The first return value asks
// the control loop to begin shutdown; the second carries the directive
// from any tick performed along the way.
func (d *Daemon) handleSignal(sig os.Signal) (bool, pool.Directive) {
	d.logger.Debug("received signal", "signal", sig.String())

	switch sig {
	case syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT:
		return true, pool.Stop

	case syscall.SIGHUP:
		d.pool.RestartAll()
		return false, d.pool.Tick()

	case syscall.SIGUSR2:
		d.reopenLogs()
		return false, pool.Continue

	case syscall.SIGCHLD:
		// Reap promptly instead of waiting out the tick interval.
		return false, d.pool.Tick()

	default:
		d.logger.Warn("unhandled signal", "signal", sig.String())
		return false, pool.Continue
	}
}

func (d *Daemon) reopenLogs() {
	if d.logFile == nil {
		d.logger.Debug("log reopen requested but logging to stderr")
		return
	}
	if err := d.logFile.Reopen(); err != nil {
		d.logger.Error("log reopen failed", "path", d.logFile.Path(), "error", err)
		return
	}
	d.logger.Info("log file reopened", "path", d.logFile.Path())
}

func (d *Daemon) updateGauges() {
	d.collector.WorkersLive.Set(float64(d.pool.Live()))
	d.collector.WorkersDesired.Set(float64(d.pool.Desired()))
	d.collector.QuickExitStreak.Set(float64(d.pool.QuickExits()))
	if !d.startedAt.IsZero() {
		d.collector.DaemonUptime.Set(time.Since(d.startedAt).Seconds())
	}
}

func (d *Daemon) startMetricsServer() {
	addr := d.cfg.Daemon.MetricsListen
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", d.collector.Handler())
	d.metricsSrv = &http.Server{Addr: addr, Handler: mux}

	go func() {
		d.logger.Info("metrics listening", "addr", addr)
		if err := d.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics server failed", "error", err)
		}
	}()
}

func (d *Daemon) stopMetricsServer() {
	if d.metricsSrv != nil {
		_ = d.metricsSrv.Close()
	}
}

// Close releases resources held outside the control loop.
func (d *Daemon) Close() {
	d.pool.Close()
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}

// wireMetrics keeps the counters in sync with pool lifecycle events.
func wireMetrics(bus *events.Bus, c *metrics.Collector) {
	bus.Subscribe(events.WorkerSpawned, func(events.Event) {
		c.SpawnTotal.Inc()
	})
	bus.Subscribe(events.WorkerReaped, func(e events.Event) {
		c.IncReap(e.Data["exit_code"] == "0")
	})
	bus.Subscribe(events.PoolRestarting, func(events.Event) {
		c.RestartTotal.Inc()
	})
	bus.Subscribe(events.PoolDraining, func(events.Event) {
		c.DrainTotal.Inc()
	})
}

// buildLogger resolves level, format, and destination from config. The
// "auto" format picks text on a terminal and JSON everywhere else.
func buildLogger(cfg *config.Config) (*slog.Logger, *logging.FileWriter, error) {
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
	return logger, fw, nil
}
