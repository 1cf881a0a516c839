package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"podscribe/internal/archive"
	"podscribe/internal/logtail"
	"podscribe/internal/supervisor"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		feed   string
		kind   string
		lines  int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the monitor log, or a worker log with --feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.SupervisorLogPath()
			if feed = strings.TrimSpace(feed); feed != "" {
				parsed, ok := archive.ParseKind(kind)
				if !ok {
					return fmt.Errorf("unknown worker kind %q (want download or transcribe)", kind)
				}
				path = supervisor.WorkerLogPath(cfg.WorkerLogDir(), parsed, feed)
			}
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !follow {
				return fmt.Errorf("no log at %s", path)
			}

			out := cmd.OutOrStdout()
			tail, offset, err := logtail.Last(path, lines)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			followCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return logtail.Follow(followCtx, path, offset, 500*time.Millisecond, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}

	cmd.Flags().StringVar(&feed, "feed", "", "Show the worker log for this feed")
	cmd.Flags().StringVar(&kind, "kind", string(archive.KindDownload), "Worker kind: download or transcribe")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	return cmd
}
