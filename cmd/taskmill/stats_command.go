package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"taskmill/internal/store"
	"taskmill/internal/task"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var challengeID int64

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show task counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(s *services) error {
				stats, err := store.StatsByChallenge(cmd.Context(), s.store.Querier(), challengeID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				rows := make([][]string, 0, len(stats))
				total := 0
				for _, status := range task.AllStatuses() {
					count, ok := stats[status]
					if !ok {
						continue
					}
					rows = append(rows, []string{string(status), strconv.Itoa(count)})
					total += count
				}
				rows = append(rows, []string{"total", strconv.Itoa(total)})
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Tasks"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&challengeID, "challenge", 0, "Restrict to one challenge")
	return cmd
}
