package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dramaforge/internal/logging"
	"dramaforge/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Push a test message to the configured ntfy topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			n := notifications.New(cfg.Notifications, logging.NewNop())
			if !n.Enabled() {
				fmt.Fprintln(out, "notifications.ntfy_topic is empty; nothing to send")
				return nil
			}
			if err := n.Test(cmd.Context()); err != nil {
				return fmt.Errorf("ntfy: %w", err)
			}
			fmt.Fprintf(out, "Sent test message to %s\n", cfg.Notifications.NtfyTopic)
			return nil
		},
	}
}
