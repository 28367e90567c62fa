package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"taskmill/internal/task"
)

func newBundleCommand(ctx *commandContext) *cobra.Command {
	bundleCmd := &cobra.Command{
		Use:   "bundle",
		Short: "Bundle operations",
	}

	bundleCmd.AddCommand(newBundleShowCommand(ctx))
	bundleCmd.AddCommand(newBundleDissolveCommand(ctx))

	return bundleCmd
}

func newBundleShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <bundle-id>",
		Short: "Show the members of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundleID := strings.TrimSpace(args[0])
			return ctx.withServices(func(s *services) error {
				members, err := s.bundles.Members(cmd.Context(), bundleID)
				if err != nil {
					return err
				}
				if len(members) == 0 {
					return task.Wrap(task.ErrNotFound, "cli", "bundle-show",
						fmt.Sprintf("bundle %s", bundleID), nil)
				}
				if ctx.jsonOutput() {
					views := make([]map[string]any, 0, len(members))
					for _, m := range members {
						views = append(views, taskView(m))
					}
					return writeJSON(cmd, views)
				}
				rows := make([][]string, 0, len(members))
				for _, m := range members {
					rows = append(rows, []string{
						strconv.FormatInt(m.ID, 10),
						m.Name,
						string(m.Status),
						yesNo(m.BundlePrimary),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Name", "Status", "Primary"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newBundleDissolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dissolve <bundle-id>",
		Short: "Clear the bundle linkage of all members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundleID := strings.TrimSpace(args[0])
			return ctx.withServices(func(s *services) error {
				cleared, err := s.bundles.Dissolve(cmd.Context(), bundleID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dissolved bundle %s (%d members)\n", bundleID, cleared)
				return nil
			})
		},
	}
}
