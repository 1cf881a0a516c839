package supervisor

import (
	"podscribe/internal/alloc"
	"podscribe/internal/archive"
)

// Launch asks for Count more workers of Kind on Feed.
type Launch struct {
	Kind  archive.Kind
	Feed  string
	Count int
}

// Demands converts scanner output into allocator input for kind.
func Demands(statuses []archive.FeedStatus, kind archive.Kind) []alloc.Demand {
	demands := make([]alloc.Demand, 0, len(statuses))
	for _, status := range statuses {
		demands = append(demands, alloc.Demand{Feed: status.Feed, Remaining: status.Remaining(kind)})
	}
	return demands
}

// Plan compares an assignment against live worker counts and returns the
// launches needed. Feeds over target are left alone. Launches never push the
// pool's live total past budget, since live workers of feeds outside the
// assignment still occupy slots until they exit.
func Plan(kind archive.Kind, assignment alloc.Assignment, live map[string]int, budget int) []Launch {
	free := budget
	for _, n := range live {
		free -= n
	}
	var launches []Launch
	for _, share := range assignment {
		if free <= 0 {
			break
		}
		want := share.Workers - live[share.Feed]
		if want <= 0 {
			continue
		}
		n := min(want, free)
		free -= n
		launches = append(launches, Launch{Kind: kind, Feed: share.Feed, Count: n})
	}
	return launches
}
