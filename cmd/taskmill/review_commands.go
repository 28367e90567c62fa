package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"taskmill/internal/review"
	"taskmill/internal/store"
	"taskmill/internal/task"
)

func newReviewCommand(ctx *commandContext) *cobra.Command {
	reviewCmd := &cobra.Command{
		Use:   "review",
		Short: "Review workflow operations",
	}

	reviewCmd.AddCommand(newReviewRequestCommand(ctx))
	reviewCmd.AddCommand(newReviewClaimCommand(ctx))
	reviewCmd.AddCommand(newReviewDecideCommand(ctx, false))
	reviewCmd.AddCommand(newReviewDecideCommand(ctx, true))
	reviewCmd.AddCommand(newReviewHistoryCommand(ctx))

	return reviewCmd
}

func newReviewRequestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "request <task-id>",
		Short: "Request (or re-request) a review of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			user := ctx.actingUser()
			if user.Guest {
				return task.Wrap(task.ErrGuestNotPermitted, "cli", "review-request", "set --user", nil)
			}
			return ctx.withServices(func(s *services) error {
				var previous int64
				err := s.store.InTx(cmd.Context(), func(q store.Querier) error {
					t, err := store.TaskByID(cmd.Context(), q, id)
					if err != nil {
						return err
					}
					if t == nil {
						return task.Wrap(task.ErrNotFound, "cli", "review-request",
							fmt.Sprintf("task %d", id), nil)
					}
					previous, err = review.EnsureRequested(cmd.Context(), q, id, user)
					return err
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Review requested for task %d\n", id)
				if previous != 0 {
					fmt.Fprintf(out, "Previous reviewer %d will be notified of the re-request\n", previous)
				}
				return nil
			})
		},
	}
}

func newReviewClaimCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Claim a task for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withServices(func(s *services) error {
				if err := s.reviews.Claim(cmd.Context(), id, ctx.actingUser()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d claimed for review\n", id)
				return nil
			})
		},
	}
}

func newReviewDecideCommand(ctx *commandContext, meta bool) *cobra.Command {
	var decision string

	use := "decide <task-id>"
	short := "Record a review decision"
	if meta {
		use = "meta-decide <task-id>"
		short = "Record a meta-review decision"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			status, err := parseReviewStatusArg(decision)
			if err != nil {
				return err
			}
			user := ctx.actingUser()
			return ctx.withServices(func(s *services) error {
				var t *task.Task
				if meta {
					t, err = s.reviews.RecordMetaDecision(cmd.Context(), id, user, status)
				} else {
					t, err = s.reviews.RecordDecision(cmd.Context(), id, user, status)
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, taskView(t))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d review: %s\n", id, status)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&decision, "decision", "", "Review decision (approved, rejected, assisted, ...)")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func newReviewHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show the append-only review history of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withServices(func(s *services) error {
				entries, err := s.reviews.History(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, entries)
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					pass := "review"
					if e.Meta {
						pass = "meta"
					}
					rows = append(rows, []string{
						strconv.FormatInt(e.ID, 10),
						strconv.FormatInt(e.ActorID, 10),
						string(e.ReviewStatus),
						pass,
						e.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Actor", "Status", "Pass", "At"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}
