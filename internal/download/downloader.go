package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"

	"podscribe/internal/archive"
	"podscribe/internal/faults"
	"podscribe/internal/fileutil"
	"podscribe/internal/httpclient"
	"podscribe/internal/logging"
)

// Result describes a published download.
type Result struct {
	Path     string
	Bytes    int64
	Attempts int
}

// Sidecar is the per-episode metadata written beside the audio file.
type Sidecar struct {
	archive.Episode
	DownloadedAt time.Time `json:"downloaded_at"`
	Bytes        int64     `json:"bytes"`
}

// Downloader fetches episode audio over HTTP.
type Downloader struct {
	client      *http.Client
	layout      archive.Layout
	idleTimeout time.Duration
	userAgent   string
	maxAttempts int
	newBackOff  func() backoff.BackOff
	logger      *slog.Logger
	now         func() time.Time
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(d *Downloader) { d.userAgent = ua }
}

// WithMaxAttempts bounds the number of tries per item.
func WithMaxAttempts(n int) Option {
	return func(d *Downloader) { d.maxAttempts = n }
}

// WithBackOff overrides the retry delay policy.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(d *Downloader) { d.newBackOff = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) { d.logger = logger }
}

// New constructs a Downloader. timeout bounds connecting, waiting for
// headers, and any silence while streaming the body; a transfer that keeps
// delivering data may take as long as it needs. A nil client gets one built
// by httpclient.New.
func New(client *http.Client, layout archive.Layout, timeout time.Duration, opts ...Option) *Downloader {
	if client == nil {
		client = httpclient.New(timeout)
	}
	d := &Downloader{
		client:      client,
		layout:      layout,
		idleTimeout: timeout,
		maxAttempts: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxAttempts < 1 {
		d.maxAttempts = 1
	}
	d.logger = logging.NewComponentLogger(d.logger, "download")
	return d
}

// Download fetches item.Source into item.Target and writes its sidecar.
func (d *Downloader) Download(ctx context.Context, item archive.WorkItem) (Result, error) {
	if item.Source == "" {
		return Result{}, faults.Wrap(faults.ErrValidation, "download", "prepare", "episode has no enclosure URL", nil)
	}
	result := Result{Path: item.Target}
	policy := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), uint64(d.maxAttempts-1)), ctx)

	op := func() error {
		result.Attempts++
		n, err := d.fetch(ctx, item)
		if err != nil {
			if faults.Retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result.Bytes = n
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logging.WarnWithContext(d.logger, "download attempt failed; retrying", "download_retry",
			logging.Feed(item.Feed),
			logging.Item(item.Name),
			logging.Int("attempt", result.Attempts),
			logging.Duration("wait", wait),
			logging.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return result, err
	}

	sidecar := Sidecar{Episode: item.Episode, DownloadedAt: d.now().UTC(), Bytes: result.Bytes}
	if err := fileutil.WriteJSONAtomic(d.layout.SidecarPath(item.Feed, item.Name), sidecar); err != nil {
		logging.WarnWithContext(d.logger, "episode sidecar write failed", "sidecar_write_failed",
			logging.Feed(item.Feed),
			logging.Item(item.Name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "episode metadata missing; audio is intact"),
		)
	}
	d.logger.Info("episode downloaded",
		logging.String(logging.FieldEventType, "download_complete"),
		logging.Feed(item.Feed),
		logging.Item(item.Name),
		logging.String("size", humanize.Bytes(uint64(result.Bytes))),
		logging.Int("attempts", result.Attempts),
	)
	return result, nil
}

func (d *Downloader) fetch(ctx context.Context, item archive.WorkItem) (int64, error) {
	reqCtx, idle := httpclient.WithIdleTimeout(ctx, d.idleTimeout)
	defer idle.Stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, item.Source, http.NoBody)
	if err != nil {
		return 0, faults.Wrap(faults.ErrValidation, "download", "request", "invalid enclosure URL", err)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if idle.Expired() {
			return 0, faults.Wrap(faults.ErrTimeout, "download", "request", "", httpclient.ErrIdle)
		}
		return 0, faults.Wrap(faults.ErrTransient, "download", "request", "", err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode); err != nil {
		return 0, err
	}

	tmp, err := fileutil.CreateTemp(item.Target)
	if err != nil {
		return 0, faults.Wrap(faults.ErrConfiguration, "download", "create temp", "", err)
	}
	n, err := io.Copy(tmp, idle.Body(resp.Body))
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		marker := faults.ErrTransient
		if idle.Expired() {
			marker = faults.ErrTimeout
		}
		return n, faults.Wrap(marker, "download", "read body", humanize.Bytes(uint64(n))+" received", err)
	}
	if n < d.layout.MinValidBytes {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		msg := fmt.Sprintf("body of %s is below the %s minimum", humanize.Bytes(uint64(n)), humanize.Bytes(uint64(d.layout.MinValidBytes)))
		return n, faults.Wrap(faults.ErrValidation, "download", "verify", msg, nil)
	}
	if err := fileutil.Publish(tmp, item.Target); err != nil {
		return n, faults.Wrap(faults.ErrTransient, "download", "publish", "", err)
	}
	return n, nil
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound, code == http.StatusGone:
		return faults.Wrap(faults.ErrNotFound, "download", "request", fmt.Sprintf("HTTP %d", code), nil)
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return faults.Wrap(faults.ErrTransient, "download", "request", fmt.Sprintf("HTTP %d", code), nil)
	default:
		return faults.Wrap(faults.ErrValidation, "download", "request", fmt.Sprintf("HTTP %d", code), nil)
	}
}
