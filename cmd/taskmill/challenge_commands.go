package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"taskmill/internal/challenge"
	"taskmill/internal/task"
)

func newChallengeCommand(ctx *commandContext) *cobra.Command {
	challengeCmd := &cobra.Command{
		Use:   "challenge",
		Short: "Challenge operations",
	}

	challengeCmd.AddCommand(newChallengeAddCommand(ctx))
	challengeCmd.AddCommand(newChallengeListCommand(ctx))
	challengeCmd.AddCommand(newChallengeEnableCommand(ctx, true))
	challengeCmd.AddCommand(newChallengeEnableCommand(ctx, false))

	return challengeCmd
}

func newChallengeAddCommand(ctx *commandContext) *cobra.Command {
	var (
		name     string
		priority string
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a challenge",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			tier := task.PriorityMedium
			if priority != "" {
				parsed, ok := task.ParsePriority(priority)
				if !ok {
					return fmt.Errorf("unknown priority %q (high, medium, low)", priority)
				}
				tier = parsed
			}
			return ctx.withServices(func(s *services) error {
				ch := &challenge.Challenge{
					Name:            name,
					Enabled:         !disabled,
					DefaultPriority: tier,
				}
				id, err := challenge.Insert(cmd.Context(), s.store.Querier(), ch)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"id": id})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created challenge %d\n", id)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Challenge name")
	cmd.Flags().StringVar(&priority, "priority", "", "Default priority tier")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the challenge disabled")
	return cmd
}

func newChallengeListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List challenges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(s *services) error {
				challenges, err := challenge.List(cmd.Context(), s.store.Querier())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, challenges)
				}
				rows := make([][]string, 0, len(challenges))
				for _, ch := range challenges {
					rows = append(rows, []string{
						strconv.FormatInt(ch.ID, 10),
						ch.Name,
						yesNo(ch.Enabled),
						ch.DefaultPriority.String(),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Enabled", "Priority"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newChallengeEnableCommand(ctx *commandContext, enable bool) *cobra.Command {
	use := "enable <challenge-id>"
	short := "Enable a challenge for selection"
	if !enable {
		use = "disable <challenge-id>"
		short = "Exclude a challenge from selection"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid challenge id %q", args[0])
			}
			return ctx.withServices(func(s *services) error {
				if err := challenge.SetEnabled(cmd.Context(), s.store.Querier(), id, enable); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Challenge %d %s\n", id, map[bool]string{true: "enabled", false: "disabled"}[enable])
				return nil
			})
		},
	}
}
