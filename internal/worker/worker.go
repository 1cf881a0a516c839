package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"podscribe/internal/archive"
	"podscribe/internal/faults"
	"podscribe/internal/journal"
	"podscribe/internal/lockfile"
	"podscribe/internal/logging"
)

// Finder enumerates pending work and re-checks completion after a claim.
type Finder interface {
	Pending(ctx context.Context, feed string, kind archive.Kind) ([]archive.WorkItem, error)
	Completed(item archive.WorkItem) bool
}

// Recorder receives journal events. A nil Recorder disables journaling.
type Recorder interface {
	Record(ctx context.Context, ev journal.Event) error
}

// Operation is the external work performed on a claimed item. It must
// publish its output atomically.
type Operation struct {
	Kind    archive.Kind
	Perform func(ctx context.Context, item archive.WorkItem) error
}

// Result summarises one Run.
type Result struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	// Skipped counts items claimed by another worker or finished by one
	// between the scan and the claim.
	Skipped int `json:"skipped"`
}

// Options configures a Worker.
type Options struct {
	Feed      string
	Operation Operation
	Finder    Finder
	Locks     *lockfile.Manager
	Journal   Recorder
	RunID     string
	Logger    *slog.Logger
}

// Worker drains one feed of one kind of work.
type Worker struct {
	feed    string
	op      Operation
	finder  Finder
	locks   *lockfile.Manager
	journal Recorder
	runID   string
	pid     int
	logger  *slog.Logger
}

// New validates opts and constructs a Worker.
func New(opts Options) (*Worker, error) {
	if strings.TrimSpace(opts.Feed) == "" {
		return nil, errors.New("worker: feed is required")
	}
	if opts.Operation.Perform == nil {
		return nil, errors.New("worker: operation is required")
	}
	if opts.Finder == nil {
		return nil, errors.New("worker: finder is required")
	}
	locks := opts.Locks
	if locks == nil {
		locks = lockfile.New(lockfile.WithLogger(opts.Logger), lockfile.WithRunID(opts.RunID))
	}
	logger := logging.NewComponentLogger(opts.Logger, "worker").With(
		logging.String(logging.FieldKind, string(opts.Operation.Kind)),
		logging.Feed(opts.Feed),
	)
	return &Worker{
		feed:    opts.Feed,
		op:      opts.Operation,
		finder:  opts.Finder,
		locks:   locks,
		journal: opts.Journal,
		runID:   opts.RunID,
		pid:     os.Getpid(),
		logger:  logger,
	}, nil
}

// Run claims and processes items until none remain claimable. It returns an
// error only when the archive cannot be scanned or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) (Result, error) {
	var result Result
	attempted := make(map[string]struct{})
	started := time.Now()

	w.logger.Info("worker started",
		logging.String(logging.FieldEventType, "worker_start"),
	)
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		item, ok, err := w.next(ctx, attempted)
		if err != nil {
			return result, fmt.Errorf("find pending %s work: %w", w.op.Kind, err)
		}
		if !ok {
			break
		}
		attempted[item.Target] = struct{}{}

		if err := os.MkdirAll(filepath.Dir(item.Sentinel()), 0o755); err != nil {
			return result, fmt.Errorf("create feed directory: %w", err)
		}
		lock := w.locks.TryAcquire(item.Sentinel())
		if lock == nil {
			result.Skipped++
			w.logger.Debug("item claimed elsewhere", logging.Item(item.Name))
			continue
		}
		if w.finder.Completed(item) {
			w.release(lock)
			result.Skipped++
			continue
		}

		err = w.perform(ctx, item)
		w.release(lock)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			result.Failed++
			w.recordFailure(ctx, item, err)
			continue
		}
		result.Completed++
		w.record(ctx, journal.EventCompleted, item, "")
	}

	w.logger.Info("worker finished",
		logging.String(logging.FieldEventType, "worker_complete"),
		logging.Int("completed", result.Completed),
		logging.Int("failed", result.Failed),
		logging.Int("skipped", result.Skipped),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

func (w *Worker) next(ctx context.Context, attempted map[string]struct{}) (archive.WorkItem, bool, error) {
	items, err := w.finder.Pending(ctx, w.feed, w.op.Kind)
	if err != nil {
		return archive.WorkItem{}, false, err
	}
	for _, item := range items {
		if _, seen := attempted[item.Target]; !seen {
			return item, true, nil
		}
	}
	return archive.WorkItem{}, false, nil
}

func (w *Worker) perform(ctx context.Context, item archive.WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", faults.ErrTransient, r)
		}
	}()
	w.logger.Debug("item started",
		logging.String(logging.FieldEventType, "item_start"),
		logging.Item(item.Name),
	)
	return w.op.Perform(ctx, item)
}

func (w *Worker) release(lock *lockfile.Lock) {
	if err := lock.Release(); err != nil {
		logging.WarnWithContext(w.logger, "sentinel release failed", "lock_release_failed",
			logging.Path(lock.Path()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "sentinel file left behind; it is reclaimed as stale"),
		)
	}
}

func (w *Worker) recordFailure(ctx context.Context, item archive.WorkItem, err error) {
	logging.WarnWithContext(w.logger, "item failed; continuing with next item", "item_failed",
		logging.Item(item.Name),
		logging.String("category", faults.Category(err)),
		logging.Bool("retryable", faults.Retryable(err)),
		logging.Error(err),
		logging.String(logging.FieldImpact, "item stays pending for a later worker"),
	)
	w.record(ctx, journal.EventFailed, item, err.Error())
}

func (w *Worker) record(ctx context.Context, typ journal.EventType, item archive.WorkItem, detail string) {
	if w.journal == nil {
		return
	}
	ev := journal.Event{
		Type:   typ,
		Kind:   string(w.op.Kind),
		Feed:   item.Feed,
		Item:   item.Name,
		PID:    w.pid,
		RunID:  w.runID,
		Detail: detail,
	}
	if err := w.journal.Record(context.WithoutCancel(ctx), ev); err != nil {
		w.logger.Debug("journal write failed", logging.Error(err))
	}
}
