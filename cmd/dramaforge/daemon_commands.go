package main

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dramaforge/internal/api"
	"dramaforge/internal/daemonctl"
	"dramaforge/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run or control the dramaforge daemon",
	}

	var runLogLevel string
	var runDevelopment bool
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    runLogLevel,
				Development: runDevelopment,
			})
		},
	}
	runCmd.Flags().StringVar(&runLogLevel, "log-level", "", "Override logging.level")
	runCmd.Flags().BoolVar(&runDevelopment, "dev", false, "Tag log lines as development output")

	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), client, exe, daemonctl.LaunchOptions{
				ConfigPath: ctx.configPath,
				LogLevel:   startLogLevel,
			}, 10*time.Second)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if result.AlreadyRunning {
				fmt.Fprintf(stdout, "Daemon already running (pid %d)\n", result.PID)
				return nil
			}
			fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override logging.level")

	var grace time.Duration
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon, pausing running projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.Stop(cmd.Context(), client, ctx.configValue(), grace)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit within %s; killed pid %d\n", grace, result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
	stopCmd.Flags().DurationVar(&grace, "grace", 35*time.Second, "How long to wait before killing the process")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, preflight, and project status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := daemonctl.StatusSnapshot(cmd.Context(), client, ctx.configValue())
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, status)
			}
			renderDaemonStatus(newStatusPrinter(cmd.OutOrStdout()), status)
			return nil
		},
	}

	daemonCmd.AddCommand(runCmd, startCmd, stopCmd, statusCmd)
	return daemonCmd
}

func renderDaemonStatus(p *statusPrinter, status api.StatusResponse) {
	out := p.out
	p.section("Daemon")
	if status.Running {
		p.line("Daemon", toneGood, fmt.Sprintf("running (pid %d)", status.PID))
	} else {
		p.line("Daemon", toneWarn, "not running")
	}
	p.line("Checkpoints", toneInfo, status.CheckpointBackend)
	p.line("Database", toneInfo, status.DatabasePath)
	if len(status.Stages) > 0 {
		p.line("Stages", toneInfo, strings.Join(status.Stages, " → "))
	}
	if status.Workflow.LastError != "" {
		p.line("Last error", toneBad, status.Workflow.LastError)
	}
	p.blank()

	if len(status.Checks) > 0 {
		p.section("Preflight")
		for _, check := range status.Checks {
			p.check(check.Name, check.Passed, check.Detail)
		}
		p.blank()
	}

	if !status.Running {
		return
	}
	p.section("Projects")
	if len(status.Workflow.Projects) == 0 {
		fmt.Fprintln(out, "No projects")
		return
	}
	rows := make([][]string, 0, len(status.Workflow.Projects))
	for _, s := range slices.Sorted(maps.Keys(status.Workflow.Projects)) {
		rows = append(rows, []string{displayStatus(string(s)), fmt.Sprintf("%d", status.Workflow.Projects[s])})
	}
	fmt.Fprint(out, renderTable([]column{col("Status"), numCol("Count")}, rows))
	fmt.Fprintln(out)
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return exe, nil
}
