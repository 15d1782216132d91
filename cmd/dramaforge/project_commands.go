package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"dramaforge/internal/api"
	"dramaforge/internal/events"
	"dramaforge/internal/workflow"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects", "p"},
		Short:   "Manage projects on the running daemon",
	}

	projectCmd.AddCommand(newProjectStartCommand(ctx))
	projectCmd.AddCommand(newProjectListCommand(ctx))
	projectCmd.AddCommand(newProjectStatusCommand(ctx))
	projectCmd.AddCommand(newProjectControlCommand(ctx, "pause", "Pause a running project after in-flight items finish", (*api.Client).Pause))
	projectCmd.AddCommand(newProjectControlCommand(ctx, "resume", "Resume a paused or interrupted project", (*api.Client).Resume))
	projectCmd.AddCommand(newProjectControlCommand(ctx, "cancel", "Cancel a project, keeping finished stages", (*api.Client).Cancel))
	projectCmd.AddCommand(newProjectControlCommand(ctx, "retry", "Retry a failed project from the failed stage", (*api.Client).Retry))
	projectCmd.AddCommand(newProjectSkipCommand(ctx))
	projectCmd.AddCommand(newProjectWatchCommand(ctx))
	projectCmd.AddCommand(newProjectLogsCommand(ctx))

	return projectCmd
}

func newProjectStartCommand(ctx *commandContext) *cobra.Command {
	var flags inputFlags
	var watch bool
	cmd := &cobra.Command{
		Use:   "start [file|-]",
		Short: "Start a new project from a novel, script, or prompt",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := flags.input(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.CreateProject(cmd.Context(), api.CreateProjectRequest{
					ID:       flags.id,
					Input:    input,
					Settings: flags.settings(),
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() && !watch {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Project %s started (%d stages)\n", resp.Project.ID, len(resp.Project.Stages))
				if !watch {
					return nil
				}
				return watchProject(cmd.Context(), cmd.OutOrStdout(), client, resp.Project.ID)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow progress until the project stops")
	return cmd
}

func newProjectListCommand(ctx *commandContext) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Projects(cmd.Context(), strings.TrimSpace(status))
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				renderProjectList(cmd.OutOrStdout(), resp.Projects)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only list projects with this status")
	return cmd
}

func newProjectStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show one project with per-stage progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Project(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printProject(ctx, cmd, resp)
			})
		},
	}
}

type controlFunc func(*api.Client, context.Context, string) (api.ProjectResponse, error)

func newProjectControlCommand(ctx *commandContext, action, short string, fn controlFunc) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := fn(client, cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Project %s: %s\n", resp.Project.ID, displayStatus(string(resp.Project.Status)))
				return nil
			})
		},
	}
}

func newProjectSkipCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "skip <id> <stage>",
		Short: "Skip an optional stage that has not run yet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Skip(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stage %s of %s will be skipped\n", args[1], resp.Project.ID)
				return nil
			})
		},
	}
}

func newProjectWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a project's events until it stops",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				return watchProject(cmd.Context(), cmd.OutOrStdout(), client, args[0])
			})
		},
	}
}

func newProjectLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs [id]",
		Short: "Print daemon log lines, optionally for one project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := ""
			if len(args) > 0 {
				project = args[0]
			}
			return ctx.withClient(func(client *api.Client) error {
				out := cmd.OutOrStdout()
				var since uint64
				for {
					resp, err := client.Logs(cmd.Context(), since, project, follow)
					if err != nil {
						if errors.Is(err, context.Canceled) {
							return nil
						}
						return err
					}
					for _, evt := range resp.Events {
						fmt.Fprintf(out, "%s %-5s %s %s\n", evt.Timestamp.Local().Format("15:04:05"), strings.ToUpper(evt.Level), evt.Component, evt.Message)
					}
					since = resp.Next
					if !follow && len(resp.Events) == 0 {
						return nil
					}
				}
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep waiting for new lines")
	return cmd
}

func printProject(ctx *commandContext, cmd *cobra.Command, resp api.ProjectResponse) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, resp)
	}
	renderProject(newStatusPrinter(cmd.OutOrStdout()), resp.Project)
	return nil
}

// watchProject prints events for id until the project stops running. History
// already in the hub is skipped so an old terminal event cannot end the watch.
func watchProject(ctx context.Context, out io.Writer, client *api.Client, id string) error {
	cursor, err := eventCursor(ctx, client, id)
	if err != nil {
		return err
	}
	resp, err := client.Project(ctx, id)
	if err != nil {
		return err
	}
	if resp.Project.Status != workflow.StatusRunning {
		fmt.Fprintf(out, "Project %s is %s\n", id, resp.Project.Status)
		return nil
	}
	for {
		page, err := client.Events(ctx, cursor, id, true)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		cursor = page.Next
		for _, evt := range page.Events {
			fmt.Fprintln(out, formatEvent(evt))
			if evt.IsTerminal() || evt.Type == events.WorkflowPaused {
				return nil
			}
		}
	}
}

func eventCursor(ctx context.Context, client *api.Client, id string) (uint64, error) {
	var cursor uint64
	for {
		page, err := client.Events(ctx, cursor, id, false)
		if err != nil {
			return 0, err
		}
		cursor = page.Next
		if len(page.Events) == 0 {
			return cursor, nil
		}
	}
}
