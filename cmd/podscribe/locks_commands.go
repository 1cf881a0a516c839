package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"podscribe/internal/archive"
	"podscribe/internal/lockfile"
	"podscribe/internal/logging"
)

func newLocksCommand(ctx *commandContext) *cobra.Command {
	locksCmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and clean up work-item sentinels",
	}
	locksCmd.AddCommand(newLocksListCommand(ctx))
	locksCmd.AddCommand(newLocksCleanCommand(ctx))
	return locksCmd
}

type lockView struct {
	Path     string    `json:"path"`
	State    string    `json:"state"`
	PID      int       `json:"pid,omitempty"`
	Owner    string    `json:"owner,omitempty"`
	RunID    string    `json:"run_id,omitempty"`
	Acquired time.Time `json:"acquired,omitzero"`
	AgeSecs  int64     `json:"age_seconds"`
}

func newLocksListCommand(ctx *commandContext) *cobra.Command {
	var (
		jsonOutput bool
		staleOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sentinels and whether their holders are alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			layout := archive.NewLayout(cfg)
			locks := lockManager(cfg, logging.NewNop(), "podscribe-locks", "", nil)
			entries, err := locks.List(layout.LockRoots()...)
			if err != nil {
				return fmt.Errorf("list sentinels: %w", err)
			}
			if staleOnly {
				filtered := entries[:0]
				for _, entry := range entries {
					if entry.State == lockfile.StateStale {
						filtered = append(filtered, entry)
					}
				}
				entries = filtered
			}

			if jsonOutput {
				views := make([]lockView, 0, len(entries))
				for _, entry := range entries {
					views = append(views, lockView{
						Path:     entry.Path,
						State:    string(entry.State),
						PID:      entry.Holder.PID,
						Owner:    entry.Holder.Owner,
						RunID:    entry.Holder.RunID,
						Acquired: entry.Holder.Acquired,
						AgeSecs:  int64(entry.Age.Seconds()),
					})
				}
				return writeJSON(cmd, views)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No sentinels found")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				pid := ""
				if entry.Holder.PID > 0 {
					pid = strconv.Itoa(entry.Holder.PID)
				}
				rows = append(rows, []string{
					relativeTo(cfg.Paths.ArchiveDir, entry.Path),
					string(entry.State),
					pid,
					entry.Holder.Owner,
					humanize.RelTime(time.Now().Add(-entry.Age), time.Now(), "ago", "from now"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Sentinel", "State", "PID", "Owner", "Age"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&staleOnly, "stale", false, "Only show stale sentinels")
	return cmd
}

func newLocksCleanCommand(ctx *commandContext) *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove sentinels whose holders are gone (dry run unless --delete)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			layout := archive.NewLayout(cfg)
			locks := lockManager(cfg, logging.NewNop(), "podscribe-locks", "", nil)
			out := cmd.OutOrStdout()

			if !apply {
				stale, err := locks.ListStale(layout.LockRoots()...)
				if err != nil {
					return fmt.Errorf("list stale sentinels: %w", err)
				}
				for _, path := range stale {
					fmt.Fprintf(out, "would remove %s\n", relativeTo(cfg.Paths.ArchiveDir, path))
				}
				fmt.Fprintf(out, "%d stale sentinels (run with --delete to remove)\n", len(stale))
				return nil
			}

			removed, err := locks.ReclaimAllStale(layout.LockRoots()...)
			if err != nil {
				return fmt.Errorf("remove stale sentinels: %w", err)
			}
			for _, path := range removed {
				fmt.Fprintf(out, "removed %s\n", relativeTo(cfg.Paths.ArchiveDir, path))
			}
			fmt.Fprintf(out, "Removed %d stale sentinels\n", len(removed))
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "delete", false, "Actually remove stale sentinels")
	return cmd
}

func relativeTo(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
