package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"podscribe/internal/archive"
	"podscribe/internal/deps"
	"podscribe/internal/journal"
	"podscribe/internal/lockfile"
	"podscribe/internal/logging"
	"podscribe/internal/procs"
	"podscribe/internal/transcribe"
	"podscribe/internal/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run one worker for a feed (normally launched by monitor)",
	}
	workerCmd.AddCommand(newWorkerKindCommand(ctx, archive.KindDownload, "Download pending episodes of a feed"))
	workerCmd.AddCommand(newWorkerKindCommand(ctx, archive.KindTranscribe, "Transcribe downloaded episodes of a feed"))
	return workerCmd
}

func newWorkerKindCommand(ctx *commandContext, kind archive.Kind, short string) *cobra.Command {
	var feed string

	cmd := &cobra.Command{
		Use:   string(kind),
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			feed = strings.TrimSpace(feed)
			if feed == "" {
				return errors.New("--feed is required")
			}

			runID := uuid.NewString()
			// Stdout is the per-worker log file when launched by monitor.
			baseLogger, err := logging.NewFromConfig(cfg, "stdout")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logger := logging.WithContext(logging.WithRunID(cmd.Context(), runID), baseLogger).
				With(logging.Int(logging.FieldPID, os.Getpid()))

			if kind == archive.KindTranscribe {
				for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
					if !status.Available && !status.Optional {
						return fmt.Errorf("%s unavailable: %s", status.Name, status.Detail)
					}
				}
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			registration, err := procs.NewRegistry(cfg.RegistryDir(), logger).Register(kind, feed, runID)
			if err != nil {
				return fmt.Errorf("register worker: %w", err)
			}
			defer registration.Close()

			var (
				recorder  worker.Recorder
				onReclaim func(string, lockfile.Holder)
			)
			if store := openJournal(runCtx, cfg, logger); store != nil {
				defer store.Close()
				recorder = store
				onReclaim = reclaimRecorder(runCtx, store, kind, runID)
			}

			layout := archive.NewLayout(cfg)
			locks := lockManager(cfg, logger, "podscribe-"+string(kind), runID, onReclaim)
			source := feedSource(cfg, logger, kind == archive.KindDownload)
			scanner := archive.NewScanner(layout, source, locks, logger)

			var op worker.Operation
			switch kind {
			case archive.KindDownload:
				op = worker.DownloadOperation(scanner, newDownloader(cfg, logger))
			default:
				svc := transcribe.NewService(transcribe.Config{
					Binary:   cfg.Transcription.Binary,
					Model:    cfg.Transcription.Model,
					Language: cfg.Transcription.Language,
				}, layout, logger)
				op = worker.TranscribeOperation(svc)
			}

			w, err := worker.New(worker.Options{
				Feed:      feed,
				Operation: op,
				Finder:    scanner,
				Locks:     locks,
				Journal:   recorder,
				RunID:     runID,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			result, err := w.Run(runCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Info("worker interrupted",
						logging.String(logging.FieldEventType, "worker_interrupted"),
						logging.Int("completed", result.Completed),
					)
					return nil
				}
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&feed, "feed", "", "Feed directory name to work on")
	return cmd
}

// reclaimRecorder journals sentinels taken over from dead workers.
func reclaimRecorder(ctx context.Context, store *journal.Store, kind archive.Kind, runID string) func(string, lockfile.Holder) {
	return func(path string, previous lockfile.Holder) {
		item := strings.TrimSuffix(filepath.Base(path), kind.SentinelSuffix())
		item = strings.TrimSuffix(item, filepath.Ext(item))
		detail := fmt.Sprintf("previous holder pid %d", previous.PID)
		if previous.RunID != "" {
			detail += " run " + previous.RunID
		}
		_ = store.Record(context.WithoutCancel(ctx), journal.Event{
			Type:   journal.EventReclaimed,
			Kind:   string(kind),
			Feed:   filepath.Base(filepath.Dir(path)),
			Item:   item,
			PID:    os.Getpid(),
			RunID:  runID,
			Detail: detail,
		})
	}
}
