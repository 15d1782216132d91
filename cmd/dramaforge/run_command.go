package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"dramaforge/internal/daemonrun"
	"dramaforge/internal/events"
	"dramaforge/internal/logging"
	"dramaforge/internal/stages"
	"dramaforge/internal/workflow"
)

// newRunCommand runs one project in process, without a daemon. It takes the
// daemon's lock so the two never write the same store at once.
func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags inputFlags
	var resumeID string
	var quiet bool
	cmd := &cobra.Command{
		Use:   "run [file|-]",
		Short: "Run a project to completion in this process",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			lock := flock.New(cfg.LockPath())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !locked {
				return errors.New("the dramaforge daemon is running; use `dramaforge project start` instead")
			}
			defer func() { _ = lock.Unlock() }()

			logPath := filepath.Join(cfg.Paths.LogDir, "dramaforge-run.log")
			logger, err := logging.New(logging.Options{
				Level:       cfg.Logging.Level,
				Format:      "json",
				OutputPaths: []string{logPath},
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := daemonrun.Build(runCtx, cfg, logger, daemonrun.BuildOptions{})
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				_ = rt.Close(closeCtx)
			}()

			// Only one project runs in this process, so any pause is ours.
			paused := make(chan struct{}, 1)
			unsubscribe := rt.Bus.Subscribe(func(evt events.Event) error {
				if !quiet {
					fmt.Fprintln(out, formatEvent(evt))
				}
				if evt.Type == events.WorkflowPaused {
					select {
					case paused <- struct{}{}:
					default:
					}
				}
				return nil
			})
			defer unsubscribe()

			var project workflow.Project
			if resumeID != "" {
				project, err = rt.Manager.Resume(runCtx, resumeID)
			} else {
				input, inputErr := flags.input(cmd.InOrStdin(), args)
				if inputErr != nil {
					return inputErr
				}
				project, err = rt.Manager.Start(runCtx, workflow.StartRequest{
					ID:       flags.id,
					Input:    input,
					Settings: flags.settings(),
				})
			}
			if err != nil {
				return err
			}

			type waitResult struct {
				project workflow.Project
				err     error
			}
			done := make(chan waitResult, 1)
			go func() {
				p, err := rt.Manager.Wait(runCtx, project.ID)
				done <- waitResult{p, err}
			}()

			var final workflow.Project
			select {
			case <-paused:
				fmt.Fprintf(out, "Project %s paused for approval; continue with `dramaforge run --resume %s`\n", project.ID, project.ID)
				return nil
			case res := <-done:
				if res.err != nil {
					if errors.Is(res.err, context.Canceled) {
						fmt.Fprintf(out, "Interrupted; resume with `dramaforge run --resume %s`\n", project.ID)
						return nil
					}
					return res.err
				}
				final = res.project
			}

			if ctx.jsonOutput() {
				return writeJSON(cmd, final)
			}
			fmt.Fprintln(out)
			renderProject(newStatusPrinter(out), final)
			if final.Status == workflow.StatusCompleted {
				fmt.Fprintf(out, "Timeline: %s\n", filepath.Join(cfg.Paths.ExportDir, final.ID, stages.ManifestName))
			}
			fmt.Fprintf(out, "Log: %s\n", logPath)
			if final.Status == workflow.StatusFailed {
				return fmt.Errorf("project %s failed: %s", final.ID, final.Error)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&resumeID, "resume", "", "Resume a project from its latest checkpoint")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress events")
	return cmd
}
