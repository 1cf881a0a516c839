package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"podscribe/internal/archive"
	"podscribe/internal/fileutil"
	"podscribe/internal/logging"
)

// Listing is the cached episode list of one feed, stored as
// <metadata_dir>/<feed>.json.
type Listing struct {
	Feed       string            `json:"feed"`
	URL        string            `json:"url,omitempty"`
	FetchedAt  time.Time         `json:"fetched_at"`
	Duplicates int               `json:"duplicates,omitempty"`
	Episodes   []archive.Episode `json:"episodes"`
}

// CachedSource implements archive.Source over the OPML subscriptions and the
// listing cache. Listings older than the refresh interval are re-fetched; a
// failed fetch falls back to the cached copy.
type CachedSource struct {
	opmlPath string
	layout   archive.Layout
	fetcher  Fetcher
	refresh  time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	opmlMod  time.Time
	subs     map[string]Subscription
	subOrder []string
}

// SourceOption customizes a CachedSource.
type SourceOption func(*CachedSource)

// WithFetcher sets the network fetcher. Without one the source is offline and
// serves cached listings only.
func WithFetcher(f Fetcher) SourceOption {
	return func(s *CachedSource) { s.fetcher = f }
}

// WithRefreshInterval sets how long a cached listing is trusted. Zero
// re-fetches on every call.
func WithRefreshInterval(d time.Duration) SourceOption {
	return func(s *CachedSource) { s.refresh = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SourceOption {
	return func(s *CachedSource) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SourceOption {
	return func(s *CachedSource) { s.now = now }
}

// NewCachedSource constructs a CachedSource reading subscriptions from opmlPath.
func NewCachedSource(opmlPath string, layout archive.Layout, opts ...SourceOption) *CachedSource {
	s := &CachedSource{
		opmlPath: opmlPath,
		layout:   layout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "feeds")
	return s
}

// Subscriptions returns the OPML subscriptions in file order. A missing OPML
// file yields none.
func (s *CachedSource) Subscriptions() ([]Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSubscriptionsLocked(); err != nil {
		return nil, err
	}
	subs := make([]Subscription, 0, len(s.subOrder))
	for _, name := range s.subOrder {
		subs = append(subs, s.subs[name])
	}
	return subs, nil
}

// Feeds returns the sorted names of subscribed feeds and feeds with a cached
// listing.
func (s *CachedSource) Feeds(_ context.Context) ([]string, error) {
	subs, err := s.Subscriptions()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(subs))
	for _, sub := range subs {
		seen[sub.Name] = struct{}{}
	}
	entries, err := os.ReadDir(s.layout.MetadataDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read listing cache: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		feed, ok := strings.CutSuffix(name, ".json")
		if entry.IsDir() || !ok || feed == "" || fileutil.IsTempName(name) {
			continue
		}
		seen[feed] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Episodes returns the listing for feed.
func (s *CachedSource) Episodes(ctx context.Context, feed string) ([]archive.Episode, error) {
	listing, err := s.Listing(ctx, feed)
	if err != nil {
		return nil, err
	}
	return listing.Episodes, nil
}

// Listing returns the listing for feed, refreshing it when the cache is older
// than the refresh interval. A feed with neither a subscription nor a cache
// has an empty listing.
func (s *CachedSource) Listing(ctx context.Context, feed string) (Listing, error) {
	cached, cacheErr := s.readCache(feed)
	haveCache := cacheErr == nil
	if cacheErr != nil && !errors.Is(cacheErr, fs.ErrNotExist) {
		logging.WarnWithContext(s.logger, "listing cache unreadable", "listing_cache_unreadable",
			logging.Feed(feed),
			logging.Error(cacheErr),
			logging.String(logging.FieldImpact, "listing will be fetched again"),
		)
	}

	if haveCache && s.fetcher != nil && s.now().Sub(cached.FetchedAt) < s.refresh {
		return cached, nil
	}
	sub, subscribed := s.subscription(feed)
	if s.fetcher == nil || !subscribed {
		if haveCache {
			return cached, nil
		}
		return Listing{Feed: feed}, nil
	}

	fresh, err := s.Refresh(ctx, sub)
	if err != nil {
		if haveCache {
			logging.WarnWithContext(s.logger, "feed refresh failed; using cached listing", "feed_refresh_failed",
				logging.Feed(feed),
				logging.Error(err),
				logging.String(logging.FieldImpact, "new episodes are not scheduled until the feed recovers"),
			)
			return cached, nil
		}
		return Listing{}, err
	}
	return fresh, nil
}

// Refresh fetches sub and rewrites its cached listing.
func (s *CachedSource) Refresh(ctx context.Context, sub Subscription) (Listing, error) {
	if s.fetcher == nil {
		return Listing{}, errors.New("feed refresh: no fetcher configured")
	}
	result, err := s.fetcher.Fetch(ctx, sub.URL)
	if err != nil {
		return Listing{}, fmt.Errorf("fetch %s: %w", sub.Name, err)
	}
	listing := Listing{
		Feed:       sub.Name,
		URL:        sub.URL,
		FetchedAt:  s.now().UTC(),
		Duplicates: result.Duplicates,
		Episodes:   result.Episodes,
	}
	if listing.Episodes == nil {
		listing.Episodes = []archive.Episode{}
	}
	if err := fileutil.WriteJSONAtomic(s.layout.ListingPath(sub.Name), listing); err != nil {
		logging.WarnWithContext(s.logger, "listing cache write failed", "listing_cache_write_failed",
			logging.Feed(sub.Name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check metadata_dir permissions"),
		)
	}
	s.logger.Debug("feed refreshed",
		logging.String(logging.FieldEventType, "feed_refreshed"),
		logging.Feed(sub.Name),
		logging.Int("episodes", len(listing.Episodes)),
		logging.Int("duplicates", listing.Duplicates),
	)
	return listing, nil
}

func (s *CachedSource) subscription(feed string) (Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadSubscriptionsLocked(); err != nil {
		return Subscription{}, false
	}
	sub, ok := s.subs[feed]
	return sub, ok
}

func (s *CachedSource) loadSubscriptionsLocked() error {
	info, err := os.Stat(s.opmlPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.subs, s.subOrder, s.opmlMod = map[string]Subscription{}, nil, time.Time{}
			return nil
		}
		return fmt.Errorf("stat opml: %w", err)
	}
	if s.subs != nil && info.ModTime().Equal(s.opmlMod) {
		return nil
	}
	subs, err := LoadOPML(s.opmlPath)
	if err != nil {
		return err
	}
	s.subs = make(map[string]Subscription, len(subs))
	s.subOrder = s.subOrder[:0]
	for _, sub := range subs {
		s.subs[sub.Name] = sub
		s.subOrder = append(s.subOrder, sub.Name)
	}
	s.opmlMod = info.ModTime()
	return nil
}

func (s *CachedSource) readCache(feed string) (Listing, error) {
	data, err := os.ReadFile(s.layout.ListingPath(feed))
	if err != nil {
		return Listing{}, err
	}
	var listing Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		return Listing{}, fmt.Errorf("decode listing %s: %w", feed, err)
	}
	if listing.Feed == "" {
		listing.Feed = feed
	}
	return listing, nil
}
