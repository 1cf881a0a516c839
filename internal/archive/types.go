package archive

import (
	"context"
	"time"
)

// Episode is one entry of a feed listing.
type Episode struct {
	Name        string    `json:"name"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Type        string    `json:"type,omitempty"`
	Length      int64     `json:"length,omitempty"`
	GUID        string    `json:"guid,omitempty"`
	Published   time.Time `json:"published,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Source supplies feed listings.
type Source interface {
	// Feeds returns the feed names the source knows about.
	Feeds(ctx context.Context) ([]string, error)
	// Episodes returns the listing for feed in publication order. An unknown
	// feed yields an empty listing, not an error.
	Episodes(ctx context.Context, feed string) ([]Episode, error)
}

// WorkItem is one claimable unit of work derived from the current disk state.
type WorkItem struct {
	Feed    string
	Name    string
	Kind    Kind
	Source  string
	Target  string
	Episode Episode
}

// Sentinel returns the lock path guarding the item.
func (w WorkItem) Sentinel() string {
	return SentinelPath(w.Target, w.Kind)
}

// FeedStatus is a per-feed snapshot of archive progress.
type FeedStatus struct {
	Feed string `json:"feed"`
	// Expected is the listing size, or Downloaded when the listing is
	// unavailable or shorter than what is already on disk.
	Expected int `json:"expected"`
	// Downloaded counts audio files at or above the minimum valid size.
	Downloaded int `json:"downloaded"`
	// Transcribed counts transcripts whose audio is downloaded.
	Transcribed int `json:"transcribed"`
	// Partial counts audio files below the minimum valid size.
	Partial int `json:"partial"`
	// StrayTranscripts counts transcripts with no valid audio.
	StrayTranscripts int `json:"stray_transcripts"`
	DownloadLocks    int `json:"download_locks"`
	TranscribeLocks  int `json:"transcribe_locks"`
}

// DownloadRemaining is the number of listed episodes not yet downloaded.
func (s FeedStatus) DownloadRemaining() int {
	return clip(s.Expected-s.Downloaded, s.Expected)
}

// TranscribeRemaining is the number of downloaded episodes without a transcript.
func (s FeedStatus) TranscribeRemaining() int {
	return clip(s.Downloaded-s.Transcribed, s.Downloaded)
}

// Remaining returns the outstanding work of the given kind.
func (s FeedStatus) Remaining(kind Kind) int {
	if kind == KindTranscribe {
		return s.TranscribeRemaining()
	}
	return s.DownloadRemaining()
}

func clip(value, upper int) int {
	if upper < 0 {
		upper = 0
	}
	return min(max(value, 0), upper)
}
