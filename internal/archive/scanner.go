package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"podscribe/internal/fileutil"
	"podscribe/internal/lockfile"
	"podscribe/internal/logging"
)

// ErrArchiveUnavailable reports that the archive root cannot be read. Nothing
// can be scheduled without it.
var ErrArchiveUnavailable = errors.New("archive unavailable")

// Scanner derives feed progress and pending work from the archive.
type Scanner struct {
	layout Layout
	source Source
	locks  *lockfile.Manager
	logger *slog.Logger
}

// NewScanner constructs a Scanner. source may be nil, in which case listings
// are empty and expected counts fall back to what is on disk.
func NewScanner(layout Layout, source Source, locks *lockfile.Manager, logger *slog.Logger) *Scanner {
	if locks == nil {
		locks = lockfile.New(lockfile.WithLogger(logger))
	}
	return &Scanner{
		layout: layout,
		source: source,
		locks:  locks,
		logger: logging.NewComponentLogger(logger, "scanner"),
	}
}

// Layout returns the layout the scanner works against.
func (s *Scanner) Layout() Layout { return s.layout }

// CheckRoot verifies that the episodes root is a readable directory.
func (s *Scanner) CheckRoot() error {
	info, err := os.Stat(s.layout.EpisodesDir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArchiveUnavailable, s.layout.EpisodesDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrArchiveUnavailable, s.layout.EpisodesDir)
	}
	if _, err := os.ReadDir(s.layout.EpisodesDir); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArchiveUnavailable, s.layout.EpisodesDir, err)
	}
	return nil
}

// Feeds returns the sorted union of feeds known to the source and feed
// directories present on disk.
func (s *Scanner) Feeds(ctx context.Context) ([]string, error) {
	if err := s.CheckRoot(); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	if s.source != nil {
		names, err := s.source.Feeds(ctx)
		if err != nil {
			logging.WarnWithContext(s.logger, "feed source unavailable; scanning feeds on disk only", "feed_source_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the OPML file path"),
				logging.String(logging.FieldImpact, "feeds without a directory are not scheduled"),
			)
		}
		for _, name := range names {
			seen[name] = struct{}{}
		}
	}
	for _, root := range []string{s.layout.EpisodesDir, s.layout.TranscriptsDir} {
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
		}
		for _, entry := range entries {
			if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
				seen[entry.Name()] = struct{}{}
			}
		}
	}
	feeds := make([]string, 0, len(seen))
	for name := range seen {
		feeds = append(feeds, name)
	}
	sort.Strings(feeds)
	return feeds, nil
}

// Scan computes a FeedStatus for each feed. Only an unreadable archive root
// is an error; per-feed problems yield zero counts and a log line.
func (s *Scanner) Scan(ctx context.Context, feeds []string) ([]FeedStatus, error) {
	if err := s.CheckRoot(); err != nil {
		return nil, err
	}
	statuses := make([]FeedStatus, 0, len(feeds))
	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		statuses = append(statuses, s.ScanFeed(ctx, feed))
	}
	return statuses, nil
}

// ScanFeed computes the status of one feed. A feed without directories has
// zero counts.
func (s *Scanner) ScanFeed(ctx context.Context, feed string) FeedStatus {
	status := FeedStatus{Feed: feed}

	audio := s.listAudio(feed)
	status.Downloaded = len(audio.valid)
	status.Partial = len(audio.partial)
	status.DownloadLocks = s.countHeld(audio.sentinels)

	transcripts := s.listTranscripts(feed)
	for name := range transcripts.outputs {
		if _, ok := audio.valid[name]; ok {
			status.Transcribed++
		} else {
			status.StrayTranscripts++
		}
	}
	status.TranscribeLocks = s.countHeld(transcripts.sentinels)

	episodes := s.episodes(ctx, feed)
	status.Expected = max(len(episodes), status.Downloaded)
	return status
}

// PendingDownloads lists listed episodes with no valid audio on disk, in
// listing order.
func (s *Scanner) PendingDownloads(ctx context.Context, feed string) ([]WorkItem, error) {
	if err := s.CheckRoot(); err != nil {
		return nil, err
	}
	audio := s.listAudio(feed)
	episodes := s.episodes(ctx, feed)
	items := make([]WorkItem, 0, len(episodes))
	for _, ep := range episodes {
		if ep.Name == "" || ep.URL == "" {
			continue
		}
		if _, ok := audio.valid[ep.Name]; ok {
			continue
		}
		items = append(items, WorkItem{
			Feed:    feed,
			Name:    ep.Name,
			Kind:    KindDownload,
			Source:  ep.URL,
			Target:  s.layout.AudioPath(feed, ep.Name, s.layout.AudioExtension(ep)),
			Episode: ep,
		})
	}
	return items, nil
}

// PendingTranscriptions lists valid audio files without a transcript, sorted
// by name.
func (s *Scanner) PendingTranscriptions(_ context.Context, feed string) ([]WorkItem, error) {
	if err := s.CheckRoot(); err != nil {
		return nil, err
	}
	audio := s.listAudio(feed)
	transcripts := s.listTranscripts(feed)
	names := make([]string, 0, len(audio.valid))
	for name := range audio.valid {
		if _, done := transcripts.outputs[name]; !done {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	items := make([]WorkItem, 0, len(names))
	for _, name := range names {
		items = append(items, WorkItem{
			Feed:   feed,
			Name:   name,
			Kind:   KindTranscribe,
			Source: audio.valid[name],
			Target: s.layout.TranscriptPath(feed, name),
		})
	}
	return items, nil
}

// Pending dispatches to PendingDownloads or PendingTranscriptions.
func (s *Scanner) Pending(ctx context.Context, feed string, kind Kind) ([]WorkItem, error) {
	if kind == KindTranscribe {
		return s.PendingTranscriptions(ctx, feed)
	}
	return s.PendingDownloads(ctx, feed)
}

// Completed reports whether item's output now exists. Workers check this
// after claiming, since another worker may have finished it meanwhile.
func (s *Scanner) Completed(item WorkItem) bool {
	switch item.Kind {
	case KindTranscribe:
		_, err := os.Stat(item.Target)
		return err == nil
	default:
		if s.HasValidAudio(item.Target) {
			return true
		}
		_, ok := s.listAudio(item.Feed).valid[item.Name]
		return ok
	}
}

// HasValidAudio reports whether path is a regular file at or above the
// minimum valid size.
func (s *Scanner) HasValidAudio(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Size() >= s.layout.MinValidBytes
}

// RemoveRemnants deletes sub-threshold audio files for item, plus temp files
// left by an interrupted download of it, so that neither blocks nor outlives
// a fresh attempt. It returns the removed paths. Callers hold item's sentinel.
func (s *Scanner) RemoveRemnants(item WorkItem) ([]string, error) {
	audio := s.listAudio(item.Feed)
	var removed []string
	for _, path := range append(audio.partial[item.Name], audio.temps[item.Name]...) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove partial download %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

type audioListing struct {
	valid     map[string]string
	partial   map[string][]string
	temps     map[string][]string
	sentinels []string
}

func (s *Scanner) listAudio(feed string) audioListing {
	listing := audioListing{valid: map[string]string{}, partial: map[string][]string{}, temps: map[string][]string{}}
	dir := s.layout.FeedEpisodesDir(feed)
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logMissing(dir, err)
		return listing
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(name, lockfile.DownloadSuffix) {
			listing.sentinels = append(listing.sentinels, filepath.Join(dir, name))
			continue
		}
		if target := fileutil.TempTarget(name); target != "" {
			listing.temps[stem(target)] = append(listing.temps[stem(target)], filepath.Join(dir, name))
			continue
		}
		if !s.layout.IsAudio(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		item := stem(name)
		if info.Size() >= s.layout.MinValidBytes {
			if existing, ok := listing.valid[item]; !ok || filepath.Join(dir, name) < existing {
				listing.valid[item] = filepath.Join(dir, name)
			}
			continue
		}
		listing.partial[item] = append(listing.partial[item], filepath.Join(dir, name))
	}
	for item := range listing.valid {
		delete(listing.partial, item)
	}
	return listing
}

type transcriptListing struct {
	outputs   map[string]struct{}
	sentinels []string
}

func (s *Scanner) listTranscripts(feed string) transcriptListing {
	listing := transcriptListing{outputs: map[string]struct{}{}}
	dir := s.layout.FeedTranscriptsDir(feed)
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logMissing(dir, err)
		return listing
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(name, lockfile.TranscribeSuffix) {
			listing.sentinels = append(listing.sentinels, filepath.Join(dir, name))
			continue
		}
		if isTranscript(name) {
			listing.outputs[stem(name)] = struct{}{}
		}
	}
	return listing
}

func (s *Scanner) countHeld(sentinels []string) int {
	held := 0
	for _, path := range sentinels {
		if s.locks.Held(path) {
			held++
		}
	}
	return held
}

func (s *Scanner) episodes(ctx context.Context, feed string) []Episode {
	if s.source == nil {
		return nil
	}
	episodes, err := s.source.Episodes(ctx, feed)
	if err != nil {
		logging.WarnWithContext(s.logger, "feed listing unavailable", "feed_listing_failed",
			logging.Feed(feed),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check network access and the feed URL"),
			logging.String(logging.FieldImpact, "expected count falls back to downloaded count"),
		)
		return nil
	}
	return episodes
}

func (s *Scanner) logMissing(dir string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	logging.WarnWithContext(s.logger, "feed directory unreadable", "feed_dir_unreadable",
		logging.Path(dir),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check directory permissions"),
		logging.String(logging.FieldImpact, "feed counts as empty this scan"),
	)
}
