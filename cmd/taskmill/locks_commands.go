package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

func newLocksCommand(ctx *commandContext) *cobra.Command {
	locksCmd := &cobra.Command{
		Use:   "locks",
		Short: "Lock table operations",
	}

	locksCmd.AddCommand(newLocksListCommand(ctx))
	locksCmd.AddCommand(newLocksSweepCommand(ctx))

	return locksCmd
}

func newLocksListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live locks, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(s *services) error {
				live, err := s.locks.List(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, live)
				}
				rows := make([][]string, 0, len(live))
				for _, l := range live {
					rows = append(rows, []string{
						strconv.FormatInt(l.ItemID, 10),
						string(l.ItemType),
						strconv.FormatInt(l.UserID, 10),
						time.Since(l.CreatedAt).Round(time.Second).String(),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Item", "Type", "User", "Age"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newLocksSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove locks older than the configured expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(s *services) error {
				// Only one sweeper may run at a time.
				guard := flock.New(filepath.Join(s.cfg.Paths.DataDir, "sweep.lock"))
				acquired, err := guard.TryLock()
				if err != nil {
					return fmt.Errorf("acquire sweep guard: %w", err)
				}
				if !acquired {
					return fmt.Errorf("another sweep is already running")
				}
				defer func() { _ = guard.Unlock() }()

				cutoff := time.Now().Add(-s.cfg.LockExpiry())
				removed, err := s.locks.SweepExpired(cmd.Context(), cutoff)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired lock(s)\n", removed)
				return nil
			})
		},
	}
}
