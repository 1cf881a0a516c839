package supervisor

import (
	"time"

	"podscribe/internal/archive"
)

// FeedSnapshot is the per-feed row of the status surface.
type FeedSnapshot struct {
	Name                    string  `json:"name"`
	Total                   int     `json:"total"`
	Downloaded              int     `json:"downloaded"`
	Transcribed             int     `json:"transcribed"`
	DownloadPercent         float64 `json:"download_percent"`
	TranscribePercent       float64 `json:"transcribe_percent"`
	LiveDownloadWorkers     int     `json:"live_download_workers"`
	LiveTranscribeWorkers   int     `json:"live_transcribe_workers"`
	TargetDownloadWorkers   int     `json:"target_download_workers"`
	TargetTranscribeWorkers int     `json:"target_transcribe_workers"`
	Partial                 int     `json:"partial"`
	StrayTranscripts        int     `json:"stray_transcripts,omitempty"`
	Stalled                 bool    `json:"stalled,omitempty"`
	RecentFailures          int     `json:"recent_failures,omitempty"`
}

// PoolSnapshot summarises one worker pool.
type PoolSnapshot struct {
	Kind      archive.Kind `json:"kind"`
	Budget    int          `json:"budget"`
	Live      int          `json:"live"`
	Target    int          `json:"target"`
	Remaining int          `json:"remaining"`
	Launched  int          `json:"launched"`
}

// Snapshot is the status surface published after every tick.
type Snapshot struct {
	Tick           int            `json:"tick"`
	Time           time.Time      `json:"time"`
	Feeds          []FeedSnapshot `json:"feeds"`
	Downloads      PoolSnapshot   `json:"downloads"`
	Transcriptions PoolSnapshot   `json:"transcriptions"`
}

// Overall returns archive-wide totals.
func (s Snapshot) Overall() (total, downloaded, transcribed int) {
	for _, f := range s.Feeds {
		total += f.Total
		downloaded += f.Downloaded
		transcribed += f.Transcribed
	}
	return total, downloaded, transcribed
}

// Stalled lists the names of feeds flagged as stalled.
func (s Snapshot) Stalled() []string {
	var names []string
	for _, f := range s.Feeds {
		if f.Stalled {
			names = append(names, f.Name)
		}
	}
	return names
}

// Percent returns num/den as a percentage, or 0 when den is 0.
func Percent(num, den int) float64 {
	if den <= 0 {
		return 0
	}
	return float64(num) * 100 / float64(den)
}

// BuildSnapshot assembles the per-feed rows. live and target are keyed by
// kind and then feed; missing entries count as zero.
func BuildSnapshot(statuses []archive.FeedStatus, live, target map[archive.Kind]map[string]int) []FeedSnapshot {
	rows := make([]FeedSnapshot, 0, len(statuses))
	for _, st := range statuses {
		rows = append(rows, FeedSnapshot{
			Name:                    st.Feed,
			Total:                   st.Expected,
			Downloaded:              st.Downloaded,
			Transcribed:             st.Transcribed,
			DownloadPercent:         Percent(st.Downloaded, st.Expected),
			TranscribePercent:       Percent(st.Transcribed, st.Downloaded),
			LiveDownloadWorkers:     live[archive.KindDownload][st.Feed],
			LiveTranscribeWorkers:   live[archive.KindTranscribe][st.Feed],
			TargetDownloadWorkers:   target[archive.KindDownload][st.Feed],
			TargetTranscribeWorkers: target[archive.KindTranscribe][st.Feed],
			Partial:                 st.Partial,
			StrayTranscripts:        st.StrayTranscripts,
		})
	}
	return rows
}
