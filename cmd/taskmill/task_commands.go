package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"taskmill/internal/challenge"
	"taskmill/internal/lifecycle"
	"taskmill/internal/locks"
	"taskmill/internal/store"
	"taskmill/internal/task"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Task operations",
	}

	taskCmd.AddCommand(newTaskShowCommand(ctx))
	taskCmd.AddCommand(newTaskAddCommand(ctx))
	taskCmd.AddCommand(newTaskSetStatusCommand(ctx))
	taskCmd.AddCommand(newTaskClaimCommand(ctx))
	taskCmd.AddCommand(newTaskReleaseCommand(ctx))
	taskCmd.AddCommand(newTaskHistoryCommand(ctx))

	return taskCmd
}

func newTaskShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its review state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withServices(func(s *services) error {
				t, err := s.reviews.GetTaskWithReview(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, taskView(t))
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTaskDetail(t))
				return nil
			})
		},
	}
}

func newTaskAddCommand(ctx *commandContext) *cobra.Command {
	var (
		challengeID int64
		name        string
		geometry    string
		lon, lat    float64
		tags        []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task to a challenge",
		RunE: func(cmd *cobra.Command, args []string) error {
			if challengeID == 0 || strings.TrimSpace(name) == "" {
				return fmt.Errorf("--challenge and --name are required")
			}
			return ctx.withServices(func(s *services) error {
				ch, err := challenge.ByID(cmd.Context(), s.store.Querier(), challengeID)
				if err != nil {
					return err
				}
				if ch == nil {
					return task.Wrap(task.ErrNotFound, "cli", "task-add",
						fmt.Sprintf("challenge %d", challengeID), nil)
				}

				t := &task.Task{
					ChallengeID:  challengeID,
					Name:         name,
					Status:       task.StatusCreated,
					GeometryJSON: geometry,
					Lon:          lon,
					Lat:          lat,
					Tags:         tags,
				}
				t.Priority = ch.ComputePriority(t)

				id, err := store.InsertTask(cmd.Context(), s.store.Querier(), t)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"id": id, "priority": t.Priority.String()})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created task %d (priority %s)\n", id, t.Priority)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&challengeID, "challenge", 0, "Parent challenge id")
	cmd.Flags().StringVar(&name, "name", "", "Task name")
	cmd.Flags().StringVar(&geometry, "geometry", "", "Geometry payload (JSON)")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Tags (comma separated)")
	return cmd
}

func newTaskSetStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		statusValue   string
		responses     string
		requestReview bool
		noReview      bool
		primaryID     int64
		bundleID      string
	)

	cmd := &cobra.Command{
		Use:   "set-status <task-id> [task-id...]",
		Short: "Apply a status to one task or a bundle of tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseTaskIDs(args)
			if err != nil {
				return err
			}
			status, err := parseStatusArg(statusValue)
			if err != nil {
				return err
			}
			if requestReview && noReview {
				return fmt.Errorf("--request-review and --no-review are mutually exclusive")
			}

			req := lifecycle.Request{
				TaskIDs:             ids,
				Status:              status,
				User:                ctx.actingUser(),
				CompletionResponses: responses,
				BundleID:            bundleID,
				PrimaryTaskID:       primaryID,
			}
			if requestReview {
				v := true
				req.RequestReview = &v
			}
			if noReview {
				v := false
				req.RequestReview = &v
			}

			return ctx.withServices(func(s *services) error {
				updated, err := s.orch.SetTaskStatus(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"updated": updated})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %d task(s)\n", updated)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusValue, "status", "", "Target status")
	cmd.Flags().StringVar(&responses, "responses", "", "Completion responses (JSON)")
	cmd.Flags().BoolVar(&requestReview, "request-review", false, "Request a review on completion")
	cmd.Flags().BoolVar(&noReview, "no-review", false, "Suppress the review request")
	cmd.Flags().Int64Var(&primaryID, "primary", 0, "Primary task id for bundles")
	cmd.Flags().StringVar(&bundleID, "bundle", "", "Existing bundle id to group under")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newTaskClaimCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Claim the exclusive lock on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			user := ctx.actingUser()
			if user.Guest {
				return task.Wrap(task.ErrGuestNotPermitted, "cli", "claim", "set --user", nil)
			}
			return ctx.withServices(func(s *services) error {
				if err := s.locks.TryClaim(cmd.Context(), id, locks.ItemTask, user.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d claimed by user %d\n", id, user.ID)
				return nil
			})
		},
	}
}

func newTaskReleaseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release <task-id>",
		Short: "Release the lock held on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			user := ctx.actingUser()
			return ctx.withServices(func(s *services) error {
				if err := s.locks.Release(cmd.Context(), id, locks.ItemTask, user.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d released\n", id)
				return nil
			})
		},
	}
}

func newTaskHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show the action log for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withServices(func(s *services) error {
				actions, err := store.ActionsForTask(cmd.Context(), s.store.Querier(), id, limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, actions)
				}
				rows := make([][]string, 0, len(actions))
				for _, a := range actions {
					rows = append(rows, []string{
						strconv.FormatInt(a.ID, 10),
						strconv.FormatInt(a.UserID, 10),
						string(a.OldStatus),
						string(a.NewStatus),
						a.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "User", "From", "To", "At"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	return cmd
}

func taskView(t *task.Task) map[string]any {
	view := map[string]any{
		"id":        t.ID,
		"challenge": t.ChallengeID,
		"name":      t.Name,
		"status":    string(t.Status),
		"priority":  t.Priority.String(),
		"tags":      t.Tags,
		"lon":       t.Lon,
		"lat":       t.Lat,
	}
	if t.BundleID != "" {
		view["bundle"] = t.BundleID
		view["bundlePrimary"] = t.BundlePrimary
	}
	if t.MappedOn != nil {
		view["mappedOn"] = t.MappedOn.UTC()
	}
	if t.CompletedBy != nil {
		view["completedBy"] = *t.CompletedBy
		view["completedTimeSpent"] = t.CompletedTimeSpent.String()
	}
	if t.HasCooperativeWork() {
		view["cooperativeWork"] = true
	}
	if t.Review != nil {
		view["review"] = map[string]any{
			"status":              string(t.Review.Status),
			"requestedBy":         t.Review.RequestedBy,
			"reviewedBy":          t.Review.ReviewedBy,
			"metaStatus":          string(t.Review.MetaStatus),
			"additionalReviewers": t.Review.AdditionalReviewers,
		}
	}
	return view
}

func renderTaskDetail(t *task.Task) string {
	rows := [][]string{
		{"ID", strconv.FormatInt(t.ID, 10)},
		{"Challenge", strconv.FormatInt(t.ChallengeID, 10)},
		{"Name", t.Name},
		{"Status", string(t.Status)},
		{"Priority", t.Priority.String()},
		{"Tags", dashIfEmpty(strings.Join(t.Tags, ", "))},
		{"Bundle", dashIfEmpty(t.BundleID)},
		{"Primary", yesNo(t.BundlePrimary)},
		{"Mapped on", formatTimePtr(t.MappedOn)},
		{"Completed by", formatUserPtr(t.CompletedBy)},
		{"Cooperative", yesNo(t.HasCooperativeWork())},
	}
	if t.Review != nil {
		rows = append(rows,
			[]string{"Review", string(t.Review.Status)},
			[]string{"Review requested by", strconv.FormatInt(t.Review.RequestedBy, 10)},
			[]string{"Reviewed by", formatUserPtr(t.Review.ReviewedBy)},
			[]string{"Meta review", string(t.Review.MetaStatus)},
		)
	} else {
		rows = append(rows, []string{"Review", "not requested"})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}
