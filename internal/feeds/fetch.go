package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"podscribe/internal/archive"
	"podscribe/internal/httpclient"
	"podscribe/internal/textutil"
)

const maxFeedBytes = 32 << 20

// Result is a parsed feed listing.
type Result struct {
	Episodes []archive.Episode
	// Duplicates counts audio entries dropped because an earlier entry had
	// the same normalized title.
	Duplicates int
}

// Fetcher retrieves and parses a feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Result, error)
}

// StatusError reports a feed request that returned a non-success status.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed request: HTTP %d for %s", e.StatusCode, e.URL)
}

// HTTPFetcher implements Fetcher using net/http and gofeed.
type HTTPFetcher struct {
	client      *http.Client
	userAgent   string
	idleTimeout time.Duration
}

// NewHTTPFetcher creates a fetcher. timeout bounds connecting and silence on
// the wire, not the whole transfer. A nil client gets one from httpclient.New.
func NewHTTPFetcher(client *http.Client, userAgent string, timeout time.Duration) *HTTPFetcher {
	if client == nil {
		client = httpclient.New(timeout)
	}
	return &HTTPFetcher{client: client, userAgent: userAgent, idleTimeout: timeout}
}

// Fetch downloads and parses the feed at url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Result, error) {
	reqCtx, idle := httpclient.WithIdleTimeout(ctx, f.idleTimeout)
	defer idle.Stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return Result{}, fmt.Errorf("feed new request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("feed request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return Result{}, &StatusError{StatusCode: resp.StatusCode, URL: url}
	}
	return ParseEpisodes(ctx, io.LimitReader(idle.Body(resp.Body), maxFeedBytes))
}

// ParseEpisodes parses an RSS or Atom document into an episode listing. Only
// entries with an audio enclosure are kept, in document order, and entries
// whose normalized title was already seen are dropped.
func ParseEpisodes(ctx context.Context, body io.Reader) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("parse feed: %w", err)
	}
	parsed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return Result{}, fmt.Errorf("parse feed: %w", err)
	}

	var result Result
	seenTitles := make(map[string]struct{}, len(parsed.Items))
	seenNames := make(map[string]struct{}, len(parsed.Items))
	for _, item := range parsed.Items {
		enclosure := audioEnclosure(item)
		if enclosure == nil {
			continue
		}
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = strings.TrimSpace(item.GUID)
		}
		key := textutil.NormalizeTitle(title)
		name := textutil.SanitizeFileName(title)
		_, dupTitle := seenTitles[key]
		_, dupName := seenNames[name]
		if (key != "" && dupTitle) || dupName {
			result.Duplicates++
			continue
		}
		if key != "" {
			seenTitles[key] = struct{}{}
		}
		seenNames[name] = struct{}{}

		ep := archive.Episode{
			Name:        name,
			Title:       title,
			URL:         strings.TrimSpace(enclosure.URL),
			Type:        enclosure.Type,
			GUID:        item.GUID,
			Description: item.Description,
		}
		if enclosure.Length != "" {
			fmt.Sscan(enclosure.Length, &ep.Length)
		}
		if item.PublishedParsed != nil {
			ep.Published = item.PublishedParsed.UTC()
		}
		result.Episodes = append(result.Episodes, ep)
	}
	return result, nil
}

func audioEnclosure(item *gofeed.Item) *gofeed.Enclosure {
	for _, enclosure := range item.Enclosures {
		if enclosure == nil || strings.TrimSpace(enclosure.URL) == "" {
			continue
		}
		if strings.Contains(strings.ToLower(enclosure.Type), "audio") {
			return enclosure
		}
	}
	return nil
}
