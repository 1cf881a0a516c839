package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"podscribe/internal/alloc"
	"podscribe/internal/archive"
	"podscribe/internal/config"
	"podscribe/internal/deps"
	"podscribe/internal/logging"
	"podscribe/internal/procs"
)

const (
	// stallMinRemaining and stallMaxPercent keep nearly finished feeds from
	// being flagged when their listing drifted.
	stallMinRemaining = 5
	stallMaxPercent   = 99.0
	failureWindow     = time.Hour
)

// Scanner reports feed progress.
type Scanner interface {
	Feeds(ctx context.Context) ([]string, error)
	Scan(ctx context.Context, feeds []string) ([]archive.FeedStatus, error)
}

// Registry lists live worker processes.
type Registry interface {
	List() ([]procs.Entry, error)
}

// Launcher starts one worker process and returns its PID.
type Launcher interface {
	Launch(ctx context.Context, kind archive.Kind, feed string) (int, error)
}

// Reporter receives the snapshot produced by each tick.
type Reporter interface {
	Report(Snapshot)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Snapshot)

// Report calls f.
func (f ReporterFunc) Report(s Snapshot) { f(s) }

// FailureCounter supplies recent per-feed failure counts for display.
type FailureCounter interface {
	FailureCounts(ctx context.Context, since time.Time) (map[string]int, error)
}

// Options wires a Supervisor.
type Options struct {
	Config   *config.Config
	Scanner  Scanner
	Registry Registry
	// Launcher may be nil for a read-only supervisor that only reports.
	Launcher Launcher
	Reporter Reporter
	Failures FailureCounter
	Logger   *slog.Logger
	// ProcessAlive defaults to procs.ProcessAlive.
	ProcessAlive func(pid int) bool
	Now          func() time.Time
}

// Supervisor owns the control loop.
type Supervisor struct {
	cfg      *config.Config
	scanner  Scanner
	registry Registry
	launcher Launcher
	reporter Reporter
	failures FailureCounter
	logger   *slog.Logger
	alive    func(int) bool
	now      func() time.Time
	state    *State
}

// New validates opts and constructs a Supervisor.
func New(opts Options) (*Supervisor, error) {
	if opts.Config == nil {
		return nil, errors.New("supervisor: config is required")
	}
	if opts.Scanner == nil {
		return nil, errors.New("supervisor: scanner is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("supervisor: registry is required")
	}
	s := &Supervisor{
		cfg:      opts.Config,
		scanner:  opts.Scanner,
		registry: opts.Registry,
		launcher: opts.Launcher,
		reporter: opts.Reporter,
		failures: opts.Failures,
		logger:   logging.NewComponentLogger(opts.Logger, "supervisor"),
		alive:    opts.ProcessAlive,
		now:      opts.Now,
		state:    NewState(),
	}
	if s.alive == nil {
		s.alive = procs.ProcessAlive
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// CheckPreconditions verifies the archive root is usable. Failing here is
// fatal: there is nothing to schedule without it.
func (s *Supervisor) CheckPreconditions() error {
	for _, dir := range []struct{ name, path string }{
		{"archive_dir", s.cfg.Paths.ArchiveDir},
		{"episodes_dir", s.cfg.Paths.EpisodesDir},
		{"transcripts_dir", s.cfg.Paths.TranscriptsDir},
	} {
		if status := deps.CheckWritableDir(dir.name, dir.path); !status.Available {
			return fmt.Errorf("%w: %s %s: %s", archive.ErrArchiveUnavailable, dir.name, dir.path, status.Detail)
		}
	}
	return nil
}

// Run ticks until ctx is cancelled or the archive becomes unavailable. It
// does not wait on or signal workers when stopping.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.CheckPreconditions(); err != nil {
		return err
	}
	interval := s.cfg.PollInterval()
	s.logger.Info("supervisor started",
		logging.String(logging.FieldEventType, "supervisor_start"),
		logging.Int("max_downloaders", s.cfg.Workers.MaxDownloaders),
		logging.Int("max_transcribers", s.cfg.Workers.MaxTranscribers),
		logging.Int("items_per_worker", s.cfg.Workers.ItemsPerWorker),
		logging.Duration("poll_interval", interval),
	)
	for {
		if _, err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return s.stopped()
			}
			if errors.Is(err, archive.ErrArchiveUnavailable) {
				logging.ErrorWithContext(s.logger, "archive unavailable; stopping supervisor", "supervisor_fatal",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check that the archive volume is mounted"),
				)
				return err
			}
			logging.WarnWithContext(s.logger, "tick failed; retrying next interval", "tick_failed",
				logging.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return s.stopped()
		case <-time.After(interval):
		}
	}
}

func (s *Supervisor) stopped() error {
	s.logger.Info("supervisor stopped; workers keep running",
		logging.String(logging.FieldEventType, "supervisor_stop"),
		logging.Int("ticks", s.state.Tick),
	)
	return nil
}

// Tick runs one scan, allocate, reconcile, and report cycle.
func (s *Supervisor) Tick(ctx context.Context) (Snapshot, error) {
	s.state.Tick++
	now := s.now()

	feeds, err := s.scanner.Feeds(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list feeds: %w", err)
	}
	statuses, err := s.scanner.Scan(ctx, feeds)
	if err != nil {
		return Snapshot{}, fmt.Errorf("scan archive: %w", err)
	}

	entries, err := s.registry.List()
	if err != nil {
		return Snapshot{}, fmt.Errorf("list workers: %w", err)
	}
	starting := s.state.prunePending(entries, s.alive, now, s.launchGrace())
	live := map[archive.Kind]map[string]int{}
	for _, kind := range []archive.Kind{archive.KindDownload, archive.KindTranscribe} {
		counts := procs.CountByFeed(entries, kind)
		for feed, n := range starting[kind] {
			counts[feed] += n
		}
		live[kind] = counts
	}

	snap := Snapshot{Tick: s.state.Tick, Time: now}
	target := map[archive.Kind]map[string]int{}
	pools := []struct {
		kind   archive.Kind
		budget int
		out    *PoolSnapshot
	}{
		{archive.KindDownload, s.cfg.Workers.MaxDownloaders, &snap.Downloads},
		{archive.KindTranscribe, s.cfg.Workers.MaxTranscribers, &snap.Transcriptions},
	}
	for _, pool := range pools {
		assignment := alloc.Allocate(Demands(statuses, pool.kind), pool.budget, s.cfg.Workers.ItemsPerWorker)
		target[pool.kind] = make(map[string]int, len(assignment))
		for _, share := range assignment {
			target[pool.kind][share.Feed] = share.Workers
		}
		launched := s.reconcile(ctx, Plan(pool.kind, assignment, live[pool.kind], pool.budget), live[pool.kind], now)

		*pool.out = PoolSnapshot{Kind: pool.kind, Budget: pool.budget, Target: assignment.Total(), Launched: launched}
		for _, n := range live[pool.kind] {
			pool.out.Live += n
		}
		for _, st := range statuses {
			pool.out.Remaining += st.Remaining(pool.kind)
		}
	}

	snap.Feeds = BuildSnapshot(statuses, live, target)
	s.markStalls(snap.Feeds, statuses)
	s.attachFailures(ctx, snap.Feeds, now)

	if s.reporter != nil {
		s.reporter.Report(snap)
	}
	return snap, nil
}

// reconcile launches the planned workers and updates live in place. A failed
// launch is logged and the rest of that feed's shortfall waits for the next
// tick.
func (s *Supervisor) reconcile(ctx context.Context, launches []Launch, live map[string]int, now time.Time) int {
	if s.launcher == nil {
		return 0
	}
	launched := 0
	for _, l := range launches {
		for range l.Count {
			pid, err := s.launcher.Launch(ctx, l.Kind, l.Feed)
			if err != nil {
				logging.ErrorWithContext(s.logger, "worker launch failed", "worker_launch_failed",
					logging.String(logging.FieldKind, string(l.Kind)),
					logging.Feed(l.Feed),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check process limits and the worker log directory"),
					logging.String(logging.FieldImpact, "shortfall is retried next tick"),
				)
				break
			}
			s.state.addPending(pid, l.Kind, l.Feed, now)
			live[l.Feed]++
			launched++
			s.logger.Info("worker launched",
				logging.String(logging.FieldEventType, "worker_launched"),
				logging.String(logging.FieldKind, string(l.Kind)),
				logging.Feed(l.Feed),
				logging.Int(logging.FieldPID, pid),
			)
		}
	}
	return launched
}

func (s *Supervisor) markStalls(rows []FeedSnapshot, statuses []archive.FeedStatus) {
	threshold := s.cfg.Workers.StallTicks
	for i, st := range statuses {
		unchanged := s.state.observe(st.Feed, st.Downloaded)
		if threshold <= 0 {
			continue
		}
		row := &rows[i]
		if unchanged >= threshold &&
			st.DownloadRemaining() > stallMinRemaining &&
			row.DownloadPercent < stallMaxPercent &&
			row.LiveDownloadWorkers > 0 {
			row.Stalled = true
		}
	}
}

func (s *Supervisor) attachFailures(ctx context.Context, rows []FeedSnapshot, now time.Time) {
	if s.failures == nil {
		return
	}
	counts, err := s.failures.FailureCounts(ctx, now.Add(-failureWindow))
	if err != nil {
		s.logger.Debug("failure counts unavailable", logging.Error(err))
		return
	}
	for i := range rows {
		rows[i].RecentFailures = counts[rows[i].Name]
	}
}

// launchGrace is how long a launched worker counts as live before it must
// appear in the registry.
func (s *Supervisor) launchGrace() time.Duration {
	return 3 * s.cfg.PollInterval()
}
