// Package alloc splits a worker budget across feeds with outstanding work.
//
// Allocate is a pure function of its inputs. The supervisor recomputes the
// assignment from a fresh scan every tick instead of adjusting the previous one.
package alloc

import "sort"

// Demand is one feed's outstanding work.
type Demand struct {
	Feed      string
	Remaining int
}

// Share is the worker count given to one feed.
type Share struct {
	Feed    string
	Workers int
}

// Assignment lists the feeds that received workers, in allocation order.
type Assignment []Share

// Workers returns the count assigned to feed, or 0.
func (a Assignment) Workers(feed string) int {
	for _, share := range a {
		if share.Feed == feed {
			return share.Workers
		}
	}
	return 0
}

// Total returns the sum of assigned workers.
func (a Assignment) Total() int {
	total := 0
	for _, share := range a {
		total += share.Workers
	}
	return total
}

// Allocate walks feeds from the largest backlog to the smallest, giving each
// ceil(remaining/threshold) workers until budget runs out. A feed only gets a
// second worker once its backlog exceeds threshold. Ties are broken by feed
// name. A threshold below 1 is treated as 1; a budget of 0 yields an empty
// assignment.
func Allocate(demands []Demand, budget, threshold int) Assignment {
	if budget <= 0 {
		return Assignment{}
	}
	if threshold < 1 {
		threshold = 1
	}

	pending := make([]Demand, 0, len(demands))
	for _, d := range demands {
		if d.Remaining > 0 {
			pending = append(pending, d)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Remaining != pending[j].Remaining {
			return pending[i].Remaining > pending[j].Remaining
		}
		return pending[i].Feed < pending[j].Feed
	})

	available := budget
	assignment := make(Assignment, 0, min(len(pending), budget))
	for _, d := range pending {
		if available == 0 {
			break
		}
		want := (d.Remaining + threshold - 1) / threshold
		workers := min(want, available)
		assignment = append(assignment, Share{Feed: d.Feed, Workers: workers})
		available -= workers
	}
	return assignment
}
