package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"podscribe/internal/feeds"
	"podscribe/internal/logging"
)

type feedView struct {
	Name       string    `json:"name"`
	Title      string    `json:"title,omitempty"`
	URL        string    `json:"url,omitempty"`
	Subscribed bool      `json:"subscribed"`
	Episodes   int       `json:"episodes"`
	Duplicates int       `json:"duplicates,omitempty"`
	FetchedAt  time.Time `json:"fetched_at,omitzero"`
	Error      string    `json:"error,omitempty"`
}

func newFeedsCommand(ctx *commandContext) *cobra.Command {
	var (
		jsonOutput bool
		refresh    bool
	)

	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "List subscribed feeds and their cached episode listings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := logging.NewNop()
			source := feedSource(cfg, logger, refresh)
			subs, err := source.Subscriptions()
			if err != nil {
				return fmt.Errorf("load subscriptions: %w", err)
			}
			bySub := make(map[string]feeds.Subscription, len(subs))
			for _, sub := range subs {
				bySub[sub.Name] = sub
			}
			names, err := source.Feeds(cmd.Context())
			if err != nil {
				return err
			}

			views := make([]feedView, 0, len(names))
			for _, name := range names {
				sub, subscribed := bySub[name]
				view := feedView{Name: name, Title: sub.Title, URL: sub.URL, Subscribed: subscribed}
				var listing feeds.Listing
				if refresh && subscribed {
					listing, err = source.Refresh(cmd.Context(), sub)
				} else {
					listing, err = source.Listing(cmd.Context(), name)
				}
				if err != nil {
					view.Error = err.Error()
				}
				view.Episodes = len(listing.Episodes)
				view.Duplicates = listing.Duplicates
				view.FetchedAt = listing.FetchedAt
				views = append(views, view)
			}

			if jsonOutput {
				return writeJSON(cmd, views)
			}
			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintf(out, "No feeds found (subscriptions file: %s)\n", cfg.Paths.OPMLPath)
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, view := range views {
				fetched := "never"
				if !view.FetchedAt.IsZero() {
					fetched = humanize.Time(view.FetchedAt)
				}
				if view.Error != "" {
					fetched = "error: " + view.Error
				}
				rows = append(rows, []string{
					view.Name,
					strconv.Itoa(view.Episodes),
					countOrBlank(view.Duplicates),
					yesNo(view.Subscribed),
					fetched,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Feed", "Episodes", "Duplicates", "Subscribed", "Fetched"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch every subscribed feed before listing")
	return cmd
}
