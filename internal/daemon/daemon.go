package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"dramaforge/internal/api"
	"dramaforge/internal/config"
	"dramaforge/internal/events"
	"dramaforge/internal/logging"
	"dramaforge/internal/metrics"
	"dramaforge/internal/preflight"
	"dramaforge/internal/workflow"
)

// Daemon coordinates the API server and workflow manager and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	workflow *workflow.Manager
	hub      *events.Hub
	logs     *logging.StreamHub
	metrics  *metrics.Metrics

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	mu      sync.Mutex
	checks  []preflight.Result
}

// Options supplies the daemon's collaborators. Only Workflow is required.
type Options struct {
	Workflow *workflow.Manager
	Events   *events.Hub
	Logs     *logging.StreamHub
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil || opts.Workflow == nil {
		return nil, errors.New("daemon requires config and workflow manager")
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(opts.Logger, "daemon"),
		workflow: opts.Workflow,
		hub:      opts.Events,
		logs:     opts.Logs,
		metrics:  opts.Metrics,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	srv, err := newAPIServer(cfg, d, opts.Logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock, runs preflight checks, and starts serving
// the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another dramaforge daemon instance is already running")
	}

	d.runPreflight(ctx)

	if err := d.api.start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("dramaforge daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) runPreflight(ctx context.Context) {
	results := preflight.RunAll(ctx, d.cfg)
	d.mu.Lock()
	d.checks = results
	d.mu.Unlock()
	for _, r := range preflight.Failed(results) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the path or endpoint named in the check"),
			logging.String(logging.FieldImpact, "projects touching this resource will likely fail"))
	}
}

// Stop stops serving, drains running projects into a resumable paused state,
// and releases the daemon lock.
func (d *Daemon) Stop(ctx context.Context) error {
	if !d.running.Load() {
		return nil
	}

	d.api.stop()
	err := d.workflow.Shutdown(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "workflow shutdown incomplete", "workflow_shutdown_incomplete",
			logging.String(logging.FieldErrorHint, "projects still running at exit resume from their last checkpoint"),
			logging.Error(err))
	}
	if unlockErr := d.lock.Unlock(); unlockErr != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(unlockErr))
	}
	d.running.Store(false)
	d.logger.Info("dramaforge daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return err
}

// Addr returns the address the API listens on, or "" before Start.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// LockPath returns the single-instance lock file.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.StatusResponse {
	d.mu.Lock()
	checks := append([]preflight.Result(nil), d.checks...)
	d.mu.Unlock()

	stages := make([]string, 0, d.workflow.Registry().Len())
	for _, id := range d.workflow.Registry().IDs() {
		stages = append(stages, string(id))
	}
	status := api.StatusResponse{
		Running:           d.running.Load(),
		PID:               os.Getpid(),
		LockFilePath:      d.lockPath,
		CheckpointBackend: d.cfg.Checkpoint.Backend,
		Stages:            stages,
		Workflow:          d.workflow.Status(),
		Checks:            checks,
	}
	if d.cfg.Checkpoint.Backend == "sqlite" || d.cfg.Cache.Persistent {
		status.DatabasePath = d.cfg.DatabasePath()
	}
	return status
}
