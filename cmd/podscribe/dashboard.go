package main

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"podscribe/internal/supervisor"
)

const progressBarWidth = 24

type dashboardOptions struct {
	Colorize bool
	// ShowComplete includes idle feeds with no outstanding work.
	ShowComplete bool
}

func renderDashboard(snap supervisor.Snapshot, opts dashboardOptions) string {
	var lines []string
	title := "podscribe"
	if snap.Tick > 0 {
		title = fmt.Sprintf("podscribe (tick %d, %s)", snap.Tick, snap.Time.Local().Format("2006-01-02 15:04:05"))
	}
	lines = append(lines, renderSectionHeader(title, opts.Colorize)...)

	total, downloaded, transcribed := snap.Overall()
	lines = append(lines,
		progressLine("Downloaded", downloaded, total, opts.Colorize),
		progressLine("Transcribed", transcribed, downloaded, opts.Colorize),
		poolLine("Downloaders", snap.Downloads, opts.Colorize),
		poolLine("Transcribers", snap.Transcriptions, opts.Colorize),
	)
	if stalled := snap.Stalled(); len(stalled) > 0 {
		lines = append(lines, renderStatusLine("Stalled", statusWarn, strings.Join(stalled, ", "), opts.Colorize))
	}
	lines = append(lines, "")

	rows, hidden := dashboardRows(snap.Feeds, opts.ShowComplete)
	if len(rows) == 0 {
		lines = append(lines, "No feeds with outstanding work")
	} else {
		lines = append(lines, tableSpec{
			Headers: []string{"Feed", "Downloaded", "DL %", "Transcribed", "TR %", "DL Workers", "TR Workers", "Partial", "Failures", "Flags"},
			Rows:    rows,
			Aligns:  []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
			Footer: []string{
				fmt.Sprintf("%d feeds", len(snap.Feeds)),
				fmt.Sprintf("%s/%s", humanize.Comma(int64(downloaded)), humanize.Comma(int64(total))),
				formatPercent(supervisor.Percent(downloaded, total)),
				humanize.Comma(int64(transcribed)),
				formatPercent(supervisor.Percent(transcribed, downloaded)),
				fmt.Sprintf("%d/%d", snap.Downloads.Live, snap.Downloads.Budget),
				fmt.Sprintf("%d/%d", snap.Transcriptions.Live, snap.Transcriptions.Budget),
			},
		}.render())
	}
	if hidden > 0 {
		lines = append(lines, fmt.Sprintf("%d complete feeds hidden", hidden))
	}
	return strings.Join(lines, "\n")
}

// dashboardRows orders feeds by outstanding work, largest first.
func dashboardRows(feeds []supervisor.FeedSnapshot, showComplete bool) ([][]string, int) {
	visible := make([]supervisor.FeedSnapshot, 0, len(feeds))
	hidden := 0
	for _, f := range feeds {
		if !showComplete && outstanding(f) == 0 && f.LiveDownloadWorkers == 0 && f.LiveTranscribeWorkers == 0 {
			hidden++
			continue
		}
		visible = append(visible, f)
	}
	slices.SortStableFunc(visible, func(a, b supervisor.FeedSnapshot) int {
		if c := cmp.Compare(outstanding(b), outstanding(a)); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})

	rows := make([][]string, 0, len(visible))
	for _, f := range visible {
		rows = append(rows, []string{
			f.Name,
			fmt.Sprintf("%d/%d", f.Downloaded, f.Total),
			formatPercent(f.DownloadPercent),
			fmt.Sprintf("%d", f.Transcribed),
			formatPercent(f.TranscribePercent),
			fmt.Sprintf("%d/%d", f.LiveDownloadWorkers, f.TargetDownloadWorkers),
			fmt.Sprintf("%d/%d", f.LiveTranscribeWorkers, f.TargetTranscribeWorkers),
			countOrBlank(f.Partial),
			countOrBlank(f.RecentFailures),
			feedFlags(f),
		})
	}
	return rows, hidden
}

func outstanding(f supervisor.FeedSnapshot) int {
	return max(f.Total-f.Downloaded, 0) + max(f.Downloaded-f.Transcribed, 0)
}

func feedFlags(f supervisor.FeedSnapshot) string {
	var flags []string
	if f.Stalled {
		flags = append(flags, "stalled")
	}
	if f.StrayTranscripts > 0 {
		flags = append(flags, fmt.Sprintf("%d stray", f.StrayTranscripts))
	}
	return strings.Join(flags, ", ")
}

func progressLine(label string, done, total int, colorize bool) string {
	pct := supervisor.Percent(done, total)
	kind := statusInfo
	if total > 0 && done >= total {
		kind = statusOK
	}
	message := fmt.Sprintf("%s %s/%s %s", progressBar(pct, progressBarWidth),
		humanize.Comma(int64(done)), humanize.Comma(int64(total)), formatPercent(pct))
	return renderStatusLine(label, kind, message, colorize)
}

func poolLine(label string, pool supervisor.PoolSnapshot, colorize bool) string {
	message := fmt.Sprintf("%d live of %d (target %d, %s remaining)",
		pool.Live, pool.Budget, pool.Target, humanize.Comma(int64(pool.Remaining)))
	if pool.Launched > 0 {
		message += fmt.Sprintf(", launched %d", pool.Launched)
	}
	return renderStatusLine(label, statusInfo, message, colorize)
}

func progressBar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	filled = min(max(filled, 0), width)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func formatPercent(pct float64) string {
	return fmt.Sprintf("%.1f%%", pct)
}

func countOrBlank(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%d", n)
}
