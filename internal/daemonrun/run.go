package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"dramaforge/internal/config"
	"dramaforge/internal/daemon"
	"dramaforge/internal/logging"
)

const shutdownTimeout = 30 * time.Second

var timeNow = time.Now

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// PIDPath is where a running daemon records its process ID.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "dramaforged.pid")
}

// ReadPID returns the process ID recorded by a running daemon.
func ReadPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(PIDPath(cfg))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file: %w", err)
	}
	return pid, nil
}

// Run starts the dramaforge daemon and blocks until ctx ends or the process
// receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logHub := logging.NewStreamHub(4096)
	logCfg := *cfg
	if opts.LogLevel != "" {
		logCfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(&logCfg, logHub)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if opts.Development {
		logger = logger.With(logging.String("mode", "development"))
	}

	rt, err := Build(signalCtx, cfg, logger, BuildOptions{})
	if err != nil {
		logging.ErrorWithContext(logger, "runtime build failed", "runtime_build_failed",
			logging.String(logging.FieldErrorHint, "check checkpoint backend and database permissions"),
			logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, daemon.Options{
		Workflow: rt.Manager,
		Events:   rt.Hub,
		Logs:     logHub,
		Metrics:  rt.Metrics,
		Logger:   logger,
	})
	if err != nil {
		_ = rt.Close(context.Background())
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		_ = rt.Close(context.Background())
		return err
	}

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		logging.WarnWithContext(logger, "pid file not written", "pid_file_failed",
			logging.String(logging.FieldErrorHint, "check data_dir permissions"),
			logging.String(logging.FieldImpact, "daemon stop falls back to the status endpoint"),
			logging.Error(err))
	}
	defer os.Remove(pidPath)

	logger.Info("dramaforge daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("api_bind", d.Addr()),
		logging.String("checkpoint_backend", cfg.Checkpoint.Backend),
		logging.Int("optional_stages", len(cfg.Pipeline.OptionalStages)),
	)

	<-signalCtx.Done()
	logger.Info("dramaforge daemon shutting down", logging.String(logging.FieldEventType, "daemon_stopping"))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	stopErr := d.Stop(stopCtx)
	if err := rt.Close(stopCtx); err != nil && stopErr == nil {
		stopErr = err
	}
	return stopErr
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
