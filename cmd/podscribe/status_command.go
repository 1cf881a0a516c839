package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"podscribe/internal/logging"
	"podscribe/internal/supervisor"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var (
		jsonOutput bool
		showAll    bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show archive progress and live workers without launching anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := logging.NewNop()
			store := openJournal(cmd.Context(), cfg, logger)
			if store != nil {
				defer store.Close()
			}

			var snap supervisor.Snapshot
			reporter := supervisor.ReporterFunc(func(s supervisor.Snapshot) { snap = s })
			sup, err := buildSupervisor(cfg, logger, uuid.NewString(), store, nil, reporter, false)
			if err != nil {
				return err
			}
			if err := sup.CheckPreconditions(); err != nil {
				return err
			}
			if _, err := sup.Tick(cmd.Context()); err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, snap)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDashboard(snap, dashboardOptions{
				Colorize:     shouldColorize(cmd.OutOrStdout()),
				ShowComplete: showAll,
			}))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the snapshot as JSON")
	cmd.Flags().BoolVar(&showAll, "all", false, "Include complete feeds")
	return cmd
}
