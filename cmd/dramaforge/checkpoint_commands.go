package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dramaforge/internal/api"
)

func newCheckpointCommand(ctx *commandContext) *cobra.Command {
	checkpointCmd := &cobra.Command{
		Use:     "checkpoint",
		Aliases: []string{"checkpoints"},
		Short:   "Inspect and prune project checkpoints",
	}

	listCmd := &cobra.Command{
		Use:   "list <project>",
		Short: "List a project's checkpoints, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Checkpoints(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if !resp.Enabled {
					fmt.Fprintln(out, "Checkpointing is disabled")
					return nil
				}
				if len(resp.Checkpoints) == 0 {
					fmt.Fprintf(out, "No checkpoints for %s\n", args[0])
					return nil
				}
				rows := make([][]string, 0, len(resp.Checkpoints))
				for _, cp := range resp.Checkpoints {
					rows = append(rows, []string{
						cp.ID,
						cp.Timestamp,
						fmt.Sprintf("%s (#%d)", cp.StageID, cp.StageIndex+1),
						formatPercent(cp.Progress),
						cp.Reason,
						fmt.Sprintf("%d", cp.Bytes),
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					col("ID"), col("Saved"), col("Stage"), numCol("Progress"), col("Reason"), numCol("Bytes"),
				}, rows))
				return nil
			})
		},
	}

	var keep int
	pruneCmd := &cobra.Command{
		Use:   "prune <project>",
		Short: "Delete all but the newest checkpoints of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.PruneCheckpoints(cmd.Context(), args[0], keep)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d checkpoint(s) from %s\n", resp.Removed, args[0])
				return nil
			})
		},
	}
	pruneCmd.Flags().IntVar(&keep, "keep", 1, "Checkpoints to keep")

	checkpointCmd.AddCommand(listCmd, pruneCmd)
	return checkpointCmd
}
