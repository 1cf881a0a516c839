package supervisor

import (
	"context"
	"log/slog"

	"podscribe/internal/logging"
)

// Alerter receives archive alerts.
type Alerter interface {
	NotifyStalled(ctx context.Context, feeds []string) error
	NotifyFeedComplete(ctx context.Context, feed string, episodes int) error
	NotifyArchiveComplete(ctx context.Context, feeds, episodes int) error
}

// AlertReporter forwards snapshots to the next reporter and raises alerts on
// transitions only. The first snapshot sets the baseline, so a restarted
// monitor does not repeat alerts for feeds that were already complete.
type AlertReporter struct {
	ctx     context.Context
	next    Reporter
	alerter Alerter
	logger  *slog.Logger

	primed      bool
	stalled     map[string]bool
	complete    map[string]bool
	archiveDone bool
}

// NewAlertReporter wraps next, which may be nil.
func NewAlertReporter(ctx context.Context, next Reporter, alerter Alerter, logger *slog.Logger) *AlertReporter {
	return &AlertReporter{
		ctx:      ctx,
		next:     next,
		alerter:  alerter,
		logger:   logging.NewComponentLogger(logger, "alerts"),
		stalled:  map[string]bool{},
		complete: map[string]bool{},
	}
}

// Report implements Reporter.
func (r *AlertReporter) Report(snap Snapshot) {
	if r.next != nil {
		r.next.Report(snap)
	}

	stalled := make(map[string]bool)
	complete := make(map[string]bool)
	var newlyStalled []string
	for _, f := range snap.Feeds {
		if f.Stalled {
			stalled[f.Name] = true
			if !r.stalled[f.Name] {
				newlyStalled = append(newlyStalled, f.Name)
			}
		}
		if feedComplete(f) {
			complete[f.Name] = true
			if r.primed && !r.complete[f.Name] {
				r.send("feed_complete", r.alerter.NotifyFeedComplete(r.ctx, f.Name, f.Total))
			}
		}
	}
	if r.primed && len(newlyStalled) > 0 {
		r.send("stalled", r.alerter.NotifyStalled(r.ctx, newlyStalled))
	}

	total, downloaded, transcribed := snap.Overall()
	archiveDone := len(snap.Feeds) > 0 && total > 0 && downloaded >= total && transcribed >= downloaded
	if r.primed && archiveDone && !r.archiveDone {
		r.send("archive_complete", r.alerter.NotifyArchiveComplete(r.ctx, len(snap.Feeds), total))
	}

	r.stalled, r.complete, r.archiveDone = stalled, complete, archiveDone
	r.primed = true
}

func (r *AlertReporter) send(alert string, err error) {
	if err == nil {
		r.logger.Debug("alert sent",
			logging.String(logging.FieldEventType, "alert_sent"),
			logging.Alert(alert),
		)
		return
	}
	logging.WarnWithContext(r.logger, "alert delivery failed", "alert_failed",
		logging.Alert(alert),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
	)
}

func feedComplete(f FeedSnapshot) bool {
	return f.Total > 0 && f.Downloaded >= f.Total && f.Transcribed >= f.Downloaded
}
