package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"podscribe/internal/config"
)

const userAgent = "podscribe/0.1"

// Service is the alert surface used by the monitor.
type Service interface {
	NotifyStalled(ctx context.Context, feeds []string) error
	NotifyFeedComplete(ctx context.Context, feed string, episodes int) error
	NotifyArchiveComplete(ctx context.Context, feeds, episodes int) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotifyTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyStalled(ctx context.Context, feeds []string) error {
	if len(feeds) == 0 {
		return nil
	}
	noun := "feed"
	if len(feeds) > 1 {
		noun = "feeds"
	}
	return n.send(ctx, payload{
		title:    "podscribe - Downloads Stalled",
		message:  fmt.Sprintf("No download progress on %d %s: %s", len(feeds), noun, strings.Join(feeds, ", ")),
		tags:     []string{"podscribe", "download", "stalled"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyFeedComplete(ctx context.Context, feed string, episodes int) error {
	return n.send(ctx, payload{
		title:   "podscribe - Feed Complete",
		message: fmt.Sprintf("%s: all %d episodes downloaded and transcribed", strings.TrimSpace(feed), episodes),
		tags:    []string{"podscribe", "feed", "completed"},
	})
}

func (n *ntfyService) NotifyArchiveComplete(ctx context.Context, feeds, episodes int) error {
	return n.send(ctx, payload{
		title:   "podscribe - Archive Complete",
		message: fmt.Sprintf("Every feed is done: %d episodes across %d feeds", episodes, feeds),
		tags:    []string{"podscribe", "archive", "completed"},
	})
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" in ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "podscribe - Error",
		message:  builder.String(),
		tags:     []string{"podscribe", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "podscribe - Test",
		message:  "Notification system test",
		tags:     []string{"podscribe", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyStalled(context.Context, []string) error         { return nil }
func (noopService) NotifyFeedComplete(context.Context, string, int) error { return nil }
func (noopService) NotifyArchiveComplete(context.Context, int, int) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error      { return nil }
func (noopService) TestNotification(context.Context) error                { return nil }
