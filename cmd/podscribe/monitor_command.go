package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"podscribe/internal/archive"
	"podscribe/internal/config"
	"podscribe/internal/deps"
	"podscribe/internal/journal"
	"podscribe/internal/logging"
	"podscribe/internal/notifications"
	"podscribe/internal/procs"
	"podscribe/internal/supervisor"
)

func newMonitorCommand(ctx *commandContext) *cobra.Command {
	var (
		once        bool
		dryRun      bool
		noDashboard bool
		showAll     bool
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the supervisor loop that launches download and transcribe workers",
		Long: "Scans the archive every poll interval, allocates the worker budgets across feeds,\n" +
			"and launches detached workers to close the gap. Stopping the monitor leaves\n" +
			"running workers alone; a restarted monitor counts them again.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runID := uuid.NewString()

			outputs := []string{cfg.SupervisorLogPath()}
			if noDashboard {
				outputs = append(outputs, "stdout")
			}
			baseLogger, err := logging.NewFromConfig(cfg, outputs...)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logger := logging.WithContext(logging.WithRunID(cmd.Context(), runID), baseLogger)
			logging.PruneArchiveLogs(logger, cfg)
			warnMissingBinaries(logger, cfg)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store := openJournal(runCtx, cfg, logger)
			if store != nil {
				defer store.Close()
				pruneJournal(cmd, store, cfg, logger)
			}

			var launcher supervisor.Launcher
			if !dryRun {
				exe, err := os.Executable()
				if err != nil {
					return fmt.Errorf("resolve executable: %w", err)
				}
				launcher = supervisor.NewExecLauncher(exe, ctx.configPath, cfg.WorkerLogDir(), logger)
			}

			var reporter supervisor.Reporter
			if !noDashboard {
				reporter = dashboardReporter(cmd.OutOrStdout(), dashboardOptions{
					Colorize:     shouldColorize(cmd.OutOrStdout()),
					ShowComplete: showAll,
				}, !once)
			}

			notifier := notifications.NewService(cfg)
			reporter = supervisor.NewAlertReporter(runCtx, reporter, notifier, logger)

			sup, err := buildSupervisor(cfg, logger, runID, store, launcher, reporter, true)
			if err != nil {
				return err
			}
			if once {
				if err := sup.CheckPreconditions(); err != nil {
					return err
				}
				_, err := sup.Tick(runCtx)
				return err
			}
			if err := sup.Run(runCtx); err != nil {
				if errors.Is(err, archive.ErrArchiveUnavailable) {
					_ = notifier.NotifyError(context.WithoutCancel(runCtx), err, "supervisor")
				}
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run a single tick and exit")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan and report without launching workers")
	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "Log to stdout instead of drawing the dashboard")
	cmd.Flags().BoolVar(&showAll, "all", false, "Include complete feeds in the dashboard")
	return cmd
}

// buildSupervisor wires the scanner, registry, and journal. A nil launcher
// gives a read-only supervisor.
func buildSupervisor(cfg *config.Config, logger *slog.Logger, runID string, store *journal.Store, launcher supervisor.Launcher, reporter supervisor.Reporter, online bool) (*supervisor.Supervisor, error) {
	locks := lockManager(cfg, logger, "podscribe-monitor", runID, nil)
	scanner := archive.NewScanner(archive.NewLayout(cfg), feedSource(cfg, logger, online), locks, logger)
	opts := supervisor.Options{
		Config:   cfg,
		Scanner:  scanner,
		Registry: procs.NewRegistry(cfg.RegistryDir(), logger),
		Launcher: launcher,
		Reporter: reporter,
		Logger:   logger,
	}
	if store != nil {
		opts.Failures = store
	}
	return supervisor.New(opts)
}

// dashboardReporter redraws the dashboard after every tick. The screen is
// only cleared on a terminal.
func dashboardReporter(out io.Writer, opts dashboardOptions, redraw bool) supervisor.Reporter {
	clearScreen := redraw && shouldColorize(out)
	return supervisor.ReporterFunc(func(snap supervisor.Snapshot) {
		frame := renderDashboard(snap, opts)
		if clearScreen {
			fmt.Fprint(out, ansiClear)
		}
		fmt.Fprintln(out, frame)
	})
}

func warnMissingBinaries(logger *slog.Logger, cfg *config.Config) {
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		if status.Available {
			continue
		}
		impact := "transcribe workers will fail"
		if status.Optional {
			impact = "some audio formats may not decode"
		}
		logging.WarnWithContext(logger, "dependency unavailable", "dependency_missing",
			logging.String("dependency", status.Name),
			logging.String("detail", status.Detail),
			logging.String(logging.FieldImpact, impact),
		)
	}
}

func pruneJournal(cmd *cobra.Command, store *journal.Store, cfg *config.Config, logger *slog.Logger) {
	if cfg.Logging.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -cfg.Logging.RetentionDays)
	removed, err := store.Prune(cmd.Context(), cutoff)
	if err != nil {
		logger.Debug("journal prune failed", logging.Error(err))
		return
	}
	if removed > 0 {
		logger.Info("pruned journal events",
			logging.String(logging.FieldEventType, "journal_pruned"),
			logging.Int64("removed", removed),
		)
	}
}
