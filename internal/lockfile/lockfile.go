package lockfile

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"podscribe/internal/logging"
)

const (
	// DownloadSuffix marks a sentinel guarding an episode download.
	DownloadSuffix = ".downloading"
	// TranscribeSuffix marks a sentinel guarding a transcript.
	TranscribeSuffix = ".transcribing"
)

// Suffixes lists every sentinel suffix in use.
var Suffixes = []string{DownloadSuffix, TranscribeSuffix}

// Manager hands out claims on sentinel paths.
type Manager struct {
	owner      string
	runID      string
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
	onReclaim  func(path string, previous Holder)
}

// Option customizes a Manager.
type Option func(*Manager)

// WithOwner records a human-readable owner label in sentinels.
func WithOwner(owner string) Option {
	return func(m *Manager) { m.owner = owner }
}

// WithRunID records the caller's run identifier in sentinels.
func WithRunID(runID string) Option {
	return func(m *Manager) { m.runID = runID }
}

// WithStaleAfter sets the age backstop used only when the lock state of a
// sentinel cannot be determined. Zero disables it.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) { m.staleAfter = d }
}

// WithLogger sets the logger used for reclaim notices and fail-closed errors.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithReclaimHook registers fn to run after a stale sentinel is taken over.
func WithReclaimHook(fn func(path string, previous Holder)) Option {
	return func(m *Manager) { m.onReclaim = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New constructs a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		owner: "podscribe",
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "lockfile")
	return m
}

// Lock is a held claim. It must be released exactly once; extra calls are no-ops.
type Lock struct {
	path   string
	holder Holder
	fl     *flock.Flock
	once   sync.Once
	err    error
}

// Path returns the sentinel path.
func (l *Lock) Path() string { return l.path }

// Holder returns the details written into the sentinel.
func (l *Lock) Holder() Holder { return l.holder }

// TryAcquire claims the sentinel at path. It returns nil when another live
// process holds the claim or when the claim cannot be established. A sentinel
// left by a dead process is reclaimed in the same call.
func (m *Manager) TryAcquire(path string) *Lock {
	fl := flock.New(path, flock.SetFlag(os.O_CREATE|os.O_RDWR), flock.SetPermissions(0o644))
	locked, err := fl.TryLock()
	if err != nil {
		m.logger.Debug("sentinel lock attempt failed",
			logging.Path(path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_error"),
		)
		_ = fl.Close()
		return nil
	}
	if !locked {
		_ = fl.Close()
		return nil
	}

	// The path may have been unlinked and recreated between open and lock by a
	// releasing holder; a lock on an orphaned inode claims nothing.
	same, err := sameFile(fl, path)
	if err != nil || !same {
		_ = fl.Unlock()
		return nil
	}

	// Holding the lock on the current inode, the path is ours to rewrite.
	previous, hadContent := readHolderPath(path)

	holder := Holder{
		PID:      os.Getpid(),
		Owner:    m.owner,
		RunID:    m.runID,
		Acquired: m.now().UTC(),
	}
	if err := writeHolder(path, holder); err != nil {
		m.logger.Warn("sentinel write failed; claim abandoned",
			logging.Path(path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_error"),
			logging.String(logging.FieldErrorHint, "check free space and permissions in the feed directory"),
		)
		_ = os.Remove(path)
		_ = fl.Unlock()
		return nil
	}

	if hadContent {
		attrs := []logging.Attr{
			logging.Path(path),
			logging.String(logging.FieldEventType, "lock_reclaimed"),
		}
		if previous.PID > 0 {
			attrs = append(attrs, logging.Int("previous_pid", previous.PID))
		}
		if !previous.Acquired.IsZero() {
			attrs = append(attrs, logging.Duration("previous_age", m.now().Sub(previous.Acquired).Round(time.Second)))
		}
		m.logger.Info("stale sentinel reclaimed", logging.Args(attrs...)...)
		if m.onReclaim != nil {
			m.onReclaim(path, previous)
		}
	}

	return &Lock{path: path, holder: holder, fl: fl}
}

// Release removes the sentinel and drops the advisory lock. A sentinel that
// was deleted or replaced externally is left alone.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		if same, err := sameFile(l.fl, l.path); err == nil && same {
			if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				l.err = err
			}
		}
		if err := l.fl.Unlock(); err != nil && l.err == nil {
			l.err = err
		}
	})
	return l.err
}

// sameFile reports whether the descriptor fl holds still names path.
func sameFile(fl *flock.Flock, path string) (bool, error) {
	held, err := fl.Stat()
	if err != nil {
		return false, err
	}
	current, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return os.SameFile(held, current), nil
}

func readHolderPath(path string) (Holder, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Holder{}, false
	}
	defer f.Close()
	return readHolder(f)
}

func readHolder(f *os.File) (Holder, bool) {
	data, err := io.ReadAll(io.LimitReader(f, maxHolderBytes))
	if err != nil || len(data) == 0 {
		return Holder{}, false
	}
	return parseHolder(data), true
}

func writeHolder(path string, holder Holder) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(holder.encode()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
