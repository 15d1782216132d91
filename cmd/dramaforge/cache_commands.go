package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dramaforge/internal/api"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the generated content cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache hit and miss counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.CacheStats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if !resp.Enabled || resp.Stats == nil {
					fmt.Fprintln(out, "Content cache is disabled")
					return nil
				}
				s := resp.Stats
				rows := [][]string{
					{"Entries", fmt.Sprintf("%d", s.Entries)},
					{"Hits", fmt.Sprintf("%d", s.Hits)},
					{"Misses", fmt.Sprintf("%d", s.Misses)},
					{"Shared calls", fmt.Sprintf("%d", s.Shared)},
					{"Upstream calls", fmt.Sprintf("%d", s.Upstream)},
				}
				fmt.Fprintln(out, renderTable([]column{col("Counter"), numCol("Value")}, rows))
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached generation result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.ClearCache(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", resp.Removed)
				return nil
			})
		},
	}

	cacheCmd.AddCommand(statsCmd, clearCmd)
	return cacheCmd
}
