package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"taskmill/internal/selection"
	"taskmill/internal/task"
)

func newNextCommand(ctx *commandContext) *cobra.Command {
	var (
		challengeID int64
		priority    string
		tags        []string
		search      string
		nearTaskID  int64
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "next",
		Short: "Select the next tasks to work on",
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria := selection.Criteria{
				ChallengeID:     challengeID,
				Tags:            tags,
				NameSearch:      search,
				ProximityTaskID: nearTaskID,
				Limit:           limit,
			}

			user := ctx.actingUser()
			return ctx.withServices(func(s *services) error {
				var (
					results []*task.Task
					err     error
				)
				if strings.TrimSpace(priority) != "" {
					tier, ok := task.ParsePriority(priority)
					if !ok {
						return fmt.Errorf("unknown priority %q (high, medium, low)", priority)
					}
					criteria.Priority = &tier
					results, err = s.selector.SelectNext(cmd.Context(), user, criteria)
				} else {
					results, err = s.selector.SelectWithPriorityFallback(cmd.Context(), user, criteria)
				}
				if err != nil {
					return err
				}

				if ctx.jsonOutput() {
					views := make([]map[string]any, 0, len(results))
					for _, t := range results {
						views = append(views, taskView(t))
					}
					return writeJSON(cmd, views)
				}
				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No eligible tasks")
					return nil
				}
				rows := make([][]string, 0, len(results))
				for _, t := range results {
					rows = append(rows, []string{
						strconv.FormatInt(t.ID, 10),
						t.Name,
						string(t.Status),
						t.Priority.String(),
						strings.Join(t.Tags, ", "),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Status", "Priority", "Tags"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&challengeID, "challenge", 0, "Pin the challenge to select from")
	cmd.Flags().StringVar(&priority, "priority", "", "Restrict to one tier instead of falling back")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Require these tags")
	cmd.Flags().StringVar(&search, "search", "", "Filter by task name")
	cmd.Flags().Int64Var(&nearTaskID, "near", 0, "Order by distance to this task")
	cmd.Flags().IntVar(&limit, "limit", 1, "Number of tasks to return")
	return cmd
}
