package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"dramaforge/internal/api"
	"dramaforge/internal/config"
	"dramaforge/internal/daemonrun"
	"dramaforge/internal/preflight"
)

const pollInterval = 200 * time.Millisecond

// ErrDaemonNotRunning is returned by Stop when neither the API nor the pid
// file points at a live daemon.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions are forwarded to "dramaforge daemon run".
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// StartResult describes the daemon EnsureStarted ended up talking to.
type StartResult struct {
	PID            int
	AlreadyRunning bool
	Status         api.StatusResponse
}

// StopResult reports which process Stop signalled and whether it had to be
// killed.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// until calls done every pollInterval until it reports true, ctx ends or
// timeout elapses, and returns done's last answer.
func until(ctx context.Context, timeout time.Duration, done func() bool) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for !done() {
		select {
		case <-ctx.Done():
			return done()
		case <-tick.C:
		}
	}
	return true
}

// Launch starts "exe daemon run" in its own session and detaches from it.
func Launch(exe string, opts LaunchOptions) error {
	if strings.TrimSpace(exe) == "" {
		return errors.New("launch daemon: empty executable path")
	}
	args := []string{"daemon", "run"}
	if v := strings.TrimSpace(opts.ConfigPath); v != "" {
		args = append(args, "--config", v)
	}
	if v := strings.TrimSpace(opts.LogLevel); v != "" {
		args = append(args, "--log-level", v)
	}
	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return cmd.Process.Release()
}

// WaitReady polls the status endpoint until the daemon reports running.
func WaitReady(ctx context.Context, client *api.Client, timeout time.Duration) (api.StatusResponse, error) {
	var (
		status  api.StatusResponse
		lastErr error
	)
	ready := until(ctx, timeout, func() bool {
		var err error
		status, err = client.Status(ctx)
		if err != nil {
			lastErr = err
		}
		return err == nil && status.Running
	})
	if ready {
		return status, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("not ready after %s", timeout)
	}
	return api.StatusResponse{}, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted returns the running daemon, launching one first when the API
// is unreachable.
func EnsureStarted(ctx context.Context, client *api.Client, exe string, opts LaunchOptions, timeout time.Duration) (StartResult, error) {
	status, err := client.Status(ctx)
	switch {
	case err == nil && status.Running:
		return StartResult{PID: status.PID, AlreadyRunning: true, Status: status}, nil
	case err != nil && !api.IsUnavailable(err):
		return StartResult{}, err
	}
	if err := Launch(exe, opts); err != nil {
		return StartResult{}, err
	}
	if status, err = WaitReady(ctx, client, timeout); err != nil {
		return StartResult{}, err
	}
	return StartResult{PID: status.PID, Status: status}, nil
}

// Stop sends SIGTERM to the daemon and SIGKILL if it outlives grace. The pid
// comes from the status endpoint, or from the pid file when the API is down.
func Stop(ctx context.Context, client *api.Client, cfg *config.Config, grace time.Duration) (StopResult, error) {
	pid, err := daemonPID(ctx, client, cfg)
	if err != nil {
		return StopResult{}, err
	}
	res := StopResult{PID: pid}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return res, nil
		}
		return res, fmt.Errorf("signal pid %d: %w", pid, err)
	}
	if until(ctx, grace, func() bool { return !processAlive(pid) }) {
		return res, nil
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return res, fmt.Errorf("kill pid %d: %w", pid, err)
	}
	// A killed daemon cannot clean up its own pid file.
	_ = os.Remove(daemonrun.PIDPath(cfg))
	res.ForcedKill = true
	return res, nil
}

func daemonPID(ctx context.Context, client *api.Client, cfg *config.Config) (int, error) {
	var pid int
	status, err := client.Status(ctx)
	switch {
	case err == nil:
		pid = status.PID
	case api.IsUnavailable(err):
		if pid, _ = daemonrun.ReadPID(cfg); pid == 0 || !processAlive(pid) {
			return 0, ErrDaemonNotRunning
		}
	default:
		return 0, err
	}
	switch {
	case pid <= 0:
		return 0, fmt.Errorf("daemon pid unknown (pid file %s)", daemonrun.PIDPath(cfg))
	case pid == os.Getpid():
		return 0, fmt.Errorf("refusing to signal own pid %d", pid)
	}
	return pid, nil
}

// processAlive treats EPERM as alive: the process exists but belongs to
// someone else.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// StatusSnapshot returns the live daemon status, or an offline snapshot with
// local paths and preflight results when the API is unreachable.
func StatusSnapshot(ctx context.Context, client *api.Client, cfg *config.Config) (api.StatusResponse, error) {
	if cfg == nil {
		return api.StatusResponse{}, errors.New("configuration not available")
	}
	status, err := client.Status(ctx)
	if err == nil || !api.IsUnavailable(err) {
		return status, err
	}
	return api.StatusResponse{
		LockFilePath:      cfg.LockPath(),
		DatabasePath:      cfg.DatabasePath(),
		CheckpointBackend: cfg.Checkpoint.Backend,
		Checks:            preflight.RunAll(ctx, cfg),
	}, nil
}
