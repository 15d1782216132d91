package main

import "github.com/spf13/cobra"

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	ctx := newCommandContext(flags)

	root := &cobra.Command{
		Use:           "dramaforge",
		Short:         "Turn stories into animated short dramas",
		Long:          "dramaforge takes a story from parse to an exported timeline, checkpointing after each stage so an interrupted project resumes where it stopped.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !needsConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "Configuration file path")
	pf.StringVar(&flags.api, "api", "", "Daemon API address (defaults to paths.api_bind)")
	pf.StringVar(&flags.token, "token", "", "Bearer token for the daemon API (defaults to paths.api_token)")
	pf.BoolVar(&flags.json, "json", false, "Print machine-readable JSON")

	root.AddCommand(
		newRunCommand(ctx),
		newDaemonCommand(ctx),
		newProjectCommand(ctx),
		newCheckpointCommand(ctx),
		newCacheCommand(ctx),
		newConfigCommand(ctx),
		newTestNotifyCommand(ctx),
	)
	return root
}
