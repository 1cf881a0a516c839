package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"podscribe/internal/journal"
	"podscribe/internal/textutil"
)

const journalDetailWidth = 60

func newJournalCommand(ctx *commandContext) *cobra.Command {
	var (
		feed       string
		limit      int
		since      time.Duration
		failures   bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recent worker events (completions, failures, reclaimed sentinels)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return errors.New("journal is disabled (journal.enabled = false)")
			}
			store, err := journal.Open(cmd.Context(), cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			filter := journal.Filter{Feed: strings.TrimSpace(feed), Limit: limit}
			if failures {
				filter.Types = []journal.EventType{journal.EventFailed}
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			events, err := store.Recent(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, events)
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No journal events")
				return nil
			}
			rows := make([][]string, 0, len(events))
			for _, ev := range events {
				rows = append(rows, []string{
					ev.RecordedAt.Local().Format("2006-01-02 15:04:05"),
					string(ev.Type),
					ev.Kind,
					ev.Feed,
					ev.Item,
					textutil.Truncate(ev.Detail, journalDetailWidth),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Time", "Event", "Kind", "Feed", "Item", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&feed, "feed", "", "Only show events for this feed")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of events")
	cmd.Flags().DurationVar(&since, "since", 0, "Only show events newer than this (e.g. 1h)")
	cmd.Flags().BoolVar(&failures, "failures", false, "Only show failures")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
