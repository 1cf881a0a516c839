package journal

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EventType names what happened to an item.
type EventType string

const (
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventReclaimed EventType = "reclaimed"
)

// Event is one journal row.
type Event struct {
	ID         int64     `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	Type       EventType `json:"event"`
	Kind       string    `json:"kind"`
	Feed       string    `json:"feed"`
	Item       string    `json:"item,omitempty"`
	PID        int       `json:"pid,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Filter narrows Recent. Zero values match everything.
type Filter struct {
	Feed  string
	Types []EventType
	Since time.Time
	Limit int
}

const defaultLimit = 50

// timeLayout is fixed width so that text comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Record appends an event. A zero RecordedAt is set to now.
func (s *Store) Record(ctx context.Context, ev Event) error {
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now()
	}
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO events (recorded_at, event, kind, feed, item, pid, run_id, detail)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.RecordedAt.UTC().Format(timeLayout),
			string(ev.Type), ev.Kind, ev.Feed, ev.Item, ev.PID, ev.RunID, ev.Detail,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("record %s event: %w", ev.Type, err)
	}
	return nil
}

// Recent returns events matching filter, newest first.
func (s *Store) Recent(ctx context.Context, filter Filter) ([]Event, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Feed != "" {
		clauses = append(clauses, "feed = ?")
		args = append(args, filter.Feed)
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, "event IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	query := "SELECT id, recorded_at, event, kind, feed, item, pid, run_id, detail FROM events"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev       Event
			recorded string
			evType   string
		)
		if err := rows.Scan(&ev.ID, &recorded, &evType, &ev.Kind, &ev.Feed, &ev.Item, &ev.PID, &ev.RunID, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = EventType(evType)
		if ts, err := time.Parse(timeLayout, recorded); err == nil {
			ev.RecordedAt = ts
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// FailureCounts returns the number of failures per feed since the given time.
func (s *Store) FailureCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT feed, COUNT(1) FROM events WHERE event = ? AND recorded_at >= ? GROUP BY feed",
		string(EventFailed), since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("count failures: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			feed  string
			count int
		)
		if err := rows.Scan(&feed, &count); err != nil {
			return nil, fmt.Errorf("scan failure count: %w", err)
		}
		counts[feed] = count
	}
	return counts, rows.Err()
}

// Prune deletes events recorded before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE recorded_at < ?", cutoff.UTC().Format(timeLayout))
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return removed, nil
}
