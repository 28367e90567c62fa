package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var jsonFlag bool
	var userFlag int64
	var elevatedFlag bool

	ctx := newCommandContext(&configFlag, &jsonFlag, &userFlag, &elevatedFlag)

	rootCmd := &cobra.Command{
		Use:           "taskmill",
		Short:         "Task lifecycle and assignment engine CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Emit JSON instead of tables")
	rootCmd.PersistentFlags().Int64VarP(&userFlag, "user", "u", 0, "Acting user id")
	rootCmd.PersistentFlags().BoolVar(&elevatedFlag, "elevated", false, "Act with elevated write privilege")

	rootCmd.AddCommand(newTaskCommand(ctx))
	rootCmd.AddCommand(newNextCommand(ctx))
	rootCmd.AddCommand(newReviewCommand(ctx))
	rootCmd.AddCommand(newBundleCommand(ctx))
	rootCmd.AddCommand(newLocksCommand(ctx))
	rootCmd.AddCommand(newChallengeCommand(ctx))
	rootCmd.AddCommand(newStatsCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newTestNotifyCommand(ctx))

	return rootCmd
}
