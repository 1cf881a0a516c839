package supervisor

import (
	"time"

	"podscribe/internal/archive"
	"podscribe/internal/procs"
)

// State is everything the control loop carries from one tick to the next.
// None of it feeds allocation; it only smooths the gap between launching a
// worker and that worker registering, and drives stall reporting.
type State struct {
	Tick     int
	pending  []pendingLaunch
	progress map[string]*feedProgress
}

type pendingLaunch struct {
	pid  int
	kind archive.Kind
	feed string
	at   time.Time
}

type feedProgress struct {
	downloaded int
	unchanged  int
}

// NewState returns an empty loop state.
func NewState() *State {
	return &State{progress: make(map[string]*feedProgress)}
}

func (s *State) addPending(pid int, kind archive.Kind, feed string, at time.Time) {
	s.pending = append(s.pending, pendingLaunch{pid: pid, kind: kind, feed: feed, at: at})
}

// prunePending drops launches that have registered, exited, or outlived
// grace, and returns the per-kind counts of those still starting up.
func (s *State) prunePending(registered []procs.Entry, alive func(int) bool, now time.Time, grace time.Duration) map[archive.Kind]map[string]int {
	seen := make(map[int]struct{}, len(registered))
	for _, entry := range registered {
		seen[entry.PID] = struct{}{}
	}
	counts := map[archive.Kind]map[string]int{
		archive.KindDownload:   {},
		archive.KindTranscribe: {},
	}
	kept := s.pending[:0]
	for _, p := range s.pending {
		if _, ok := seen[p.pid]; ok {
			continue
		}
		if now.Sub(p.at) > grace || !alive(p.pid) {
			continue
		}
		kept = append(kept, p)
		counts[p.kind][p.feed]++
	}
	s.pending = kept
	return counts
}

// observe records this tick's downloaded count for feed and returns how many
// consecutive ticks it has been unchanged.
func (s *State) observe(feed string, downloaded int) int {
	p, ok := s.progress[feed]
	if !ok {
		s.progress[feed] = &feedProgress{downloaded: downloaded}
		return 0
	}
	if p.downloaded == downloaded {
		p.unchanged++
	} else {
		p.downloaded = downloaded
		p.unchanged = 0
	}
	return p.unchanged
}
