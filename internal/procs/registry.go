// Package procs tracks running worker processes through flocked registration
// files, so a supervisor can count live workers per feed after a restart.
package procs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"podscribe/internal/archive"
	"podscribe/internal/logging"
)

const entrySuffix = ".pid"

// Entry describes one registered worker.
type Entry struct {
	PID       int          `json:"pid"`
	Kind      archive.Kind `json:"kind"`
	Feed      string       `json:"feed"`
	RunID     string       `json:"run_id"`
	StartedAt time.Time    `json:"started_at"`
	Path      string       `json:"-"`
}

// Registry is a directory of worker registration files.
type Registry struct {
	dir    string
	logger *slog.Logger
}

// NewRegistry returns a registry rooted at dir.
func NewRegistry(dir string, logger *slog.Logger) *Registry {
	return &Registry{dir: dir, logger: logging.NewComponentLogger(logger, "registry")}
}

// Registration is held by a worker for its lifetime.
type Registration struct {
	entry Entry
	fl    *flock.Flock
}

// Entry returns the registered details.
func (r *Registration) Entry() Entry { return r.entry }

// Register records the current process as a worker of kind for feed and holds
// the registration lock until Close or process exit.
func (r *Registry) Register(kind archive.Kind, feed, runID string) (*Registration, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	pid := os.Getpid()
	path := filepath.Join(r.dir, fmt.Sprintf("%s-%d%s", kind, pid, entrySuffix))
	fl := flock.New(path, flock.SetFlag(os.O_CREATE|os.O_RDWR), flock.SetPermissions(0o644))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock registration %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("registration %s already held", path)
	}

	entry := Entry{PID: pid, Kind: kind, Feed: feed, RunID: runID, StartedAt: time.Now().UTC(), Path: path}
	data, err := json.Marshal(entry)
	if err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("encode registration: %w", err)
	}
	if held, statErr := fl.Stat(); statErr == nil {
		if current, err := os.Stat(path); err != nil || !os.SameFile(held, current) {
			_ = fl.Unlock()
			return nil, fmt.Errorf("registration %s replaced while registering", path)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("write registration: %w", err)
	}
	return &Registration{entry: entry, fl: fl}, nil
}

// Close removes the registration file and releases its lock.
func (r *Registration) Close() error {
	if r == nil || r.fl == nil {
		return nil
	}
	err := os.Remove(r.entry.Path)
	if errors.Is(err, fs.ErrNotExist) {
		err = nil
	}
	if unlockErr := r.fl.Unlock(); err == nil {
		err = unlockErr
	}
	r.fl = nil
	return err
}

// List returns live workers sorted by kind, feed, then PID. Registrations of
// dead processes are removed.
func (r *Registry) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var live []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), entrySuffix) {
			continue
		}
		path := filepath.Join(r.dir, de.Name())
		entry, ok := r.inspect(path)
		if ok {
			live = append(live, entry)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].Kind != live[j].Kind {
			return live[i].Kind < live[j].Kind
		}
		if live[i].Feed != live[j].Feed {
			return live[i].Feed < live[j].Feed
		}
		return live[i].PID < live[j].PID
	})
	return live, nil
}

// CountByFeed tallies live workers of kind per feed.
func CountByFeed(entries []Entry, kind archive.Kind) map[string]int {
	counts := make(map[string]int)
	for _, entry := range entries {
		if entry.Kind == kind {
			counts[entry.Feed]++
		}
	}
	return counts
}

func (r *Registry) inspect(path string) (Entry, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || entry.PID <= 0 {
		// A registration being written has no content yet; it is only
		// pruned once its lock can be taken.
		entry = Entry{}
	}
	entry.Path = path

	if entry.PID > 0 && !ProcessAlive(entry.PID) {
		r.prune(path, entry)
		return Entry{}, false
	}
	fl := flock.New(path, flock.SetFlag(os.O_RDONLY))
	locked, err := fl.TryLock()
	if err != nil {
		return Entry{}, false
	}
	if locked {
		r.prune(path, entry)
		_ = fl.Unlock()
		return Entry{}, false
	}
	return entry, entry.PID > 0
}

func (r *Registry) prune(path string, entry Entry) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Debug("registration prune failed", logging.Path(path), logging.Error(err))
		return
	}
	r.logger.Debug("pruned dead worker registration",
		logging.Path(path),
		logging.Int(logging.FieldPID, entry.PID),
		logging.Feed(entry.Feed),
		logging.String(logging.FieldEventType, "worker_pruned"),
	)
}

// ProcessAlive reports whether pid names a process in the process table.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
