package lockfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"podscribe/internal/logging"
)

// State classifies a sentinel found on disk.
type State string

const (
	// StateActive means a live process holds the sentinel's lock.
	StateActive State = "active"
	// StateStale means the holder is gone and the sentinel can be reclaimed.
	StateStale State = "stale"
	// StateUnknown means the lock state could not be determined and the age
	// backstop did not apply.
	StateUnknown State = "unknown"
)

// Entry describes one sentinel.
type Entry struct {
	Path   string
	State  State
	Holder Holder
	Age    time.Duration
}

// IsSentinel reports whether name carries a sentinel suffix.
func IsSentinel(name string) bool {
	for _, suffix := range Suffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// IsStale reports whether the sentinel at path has been abandoned. The lock
// state is authoritative: a sentinel whose lock is held is never stale,
// however old. Age only decides when the lock check itself fails.
func (m *Manager) IsStale(path string) bool {
	return m.lockState(path) == StateStale
}

// Held reports whether a live process currently holds the sentinel at path.
func (m *Manager) Held(path string) bool {
	return m.lockState(path) == StateActive
}

func (m *Manager) lockState(path string) State {
	fl := flock.New(path, flock.SetFlag(os.O_RDONLY))
	locked, err := fl.TryLock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ""
		}
		age, ok := m.age(path)
		if ok && m.staleAfter > 0 && age > m.staleAfter {
			logging.WarnWithContext(m.logger, "sentinel lock check failed; treating aged sentinel as stale", "lock_check_failed",
				logging.Path(path),
				logging.Duration("age", age.Round(time.Second)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the archive filesystem supports flock"),
				logging.String(logging.FieldImpact, "sentinel will be reclaimed by age"),
			)
			return StateStale
		}
		return StateUnknown
	}
	if !locked {
		if m.staleAfter > 0 {
			if age, ok := m.age(path); ok && age > m.staleAfter {
				logging.WarnWithContext(m.logger, "sentinel held beyond age backstop", "lock_aged",
					logging.Path(path),
					logging.Duration("age", age.Round(time.Second)),
					logging.String(logging.FieldErrorHint, "inspect the holder process; it may be hung"),
					logging.String(logging.FieldImpact, "item stays claimed while the holder lives"),
				)
			}
		}
		return StateActive
	}
	_ = fl.Unlock()
	return StateStale
}

func (m *Manager) age(path string) (time.Duration, bool) {
	if holder, err := ReadHolder(path); err == nil && !holder.Acquired.IsZero() {
		return m.now().Sub(holder.Acquired), true
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return m.now().Sub(info.ModTime()), true
}

// Inspect classifies the sentinel at path. ok is false when it does not exist.
func (m *Manager) Inspect(path string) (Entry, bool) {
	state := m.lockState(path)
	if state == "" {
		return Entry{}, false
	}
	entry := Entry{Path: path, State: state}
	if holder, err := ReadHolder(path); err == nil {
		entry.Holder = holder
	}
	if age, ok := m.age(path); ok {
		entry.Age = age
	}
	return entry, true
}

// List walks roots and classifies every sentinel found, sorted by path.
// Missing roots are skipped.
func (m *Manager) List(roots ...string) ([]Entry, error) {
	var entries []Entry
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() || !IsSentinel(d.Name()) {
				return nil
			}
			if entry, ok := m.Inspect(path); ok {
				entries = append(entries, entry)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// ListStale returns the paths of stale sentinels under roots.
func (m *Manager) ListStale(roots ...string) ([]string, error) {
	entries, err := m.List(roots...)
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, entry := range entries {
		if entry.State == StateStale {
			stale = append(stale, entry.Path)
		}
	}
	return stale, nil
}

// ReclaimAllStale removes every stale sentinel under roots and returns the
// removed paths. Each removal happens while holding the sentinel's lock, so a
// sentinel claimed concurrently is never removed.
func (m *Manager) ReclaimAllStale(roots ...string) ([]string, error) {
	candidates, err := m.ListStale(roots...)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, path := range candidates {
		if m.removeIfUnheld(path) {
			removed = append(removed, path)
		}
	}
	if len(removed) > 0 {
		m.logger.Info("stale sentinels removed",
			logging.Int("count", len(removed)),
			logging.String(logging.FieldEventType, "lock_sweep"),
		)
	}
	return removed, nil
}

func (m *Manager) removeIfUnheld(path string) bool {
	fl := flock.New(path, flock.SetFlag(os.O_RDONLY))
	locked, err := fl.TryLock()
	switch {
	case err != nil:
		// Only reachable for sentinels the age backstop marked stale.
		if errors.Is(err, fs.ErrNotExist) {
			return false
		}
		return m.remove(path)
	case !locked:
		return false
	}
	defer func() { _ = fl.Unlock() }()
	same, err := sameFile(fl, path)
	if err != nil || !same {
		return false
	}
	return m.remove(path)
}

func (m *Manager) remove(path string) bool {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false
		}
		m.logger.Warn("stale sentinel removal failed",
			logging.Path(path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_sweep_failed"),
			logging.String(logging.FieldErrorHint, "check directory permissions"),
		)
		return false
	}
	return true
}
