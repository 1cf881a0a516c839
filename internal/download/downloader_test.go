package download_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"podscribe/internal/archive"
	"podscribe/internal/download"
	"podscribe/internal/faults"
	"podscribe/internal/httpclient"
	"podscribe/internal/logging"
	"podscribe/internal/testsupport"
)

const minValid = 4 * 1024

func newDownloader(t *testing.T, client *http.Client) (*download.Downloader, archive.Layout) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithMinValidBytes(minValid))
	layout := archive.NewLayout(cfg)
	d := download.New(client, layout, 5*time.Second,
		download.WithMaxAttempts(3),
		download.WithUserAgent("podscribe-test"),
		download.WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
		download.WithLogger(logging.NewNop()),
	)
	return d, layout
}

func item(layout archive.Layout, url string) archive.WorkItem {
	ep := archive.Episode{Name: "Episode 1", Title: "Episode 1", URL: url, Type: "audio/mpeg"}
	return archive.WorkItem{
		Feed:    "Show",
		Name:    ep.Name,
		Kind:    archive.KindDownload,
		Source:  url,
		Target:  layout.AudioPath("Show", ep.Name, ".mp3"),
		Episode: ep,
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".part-") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestDownloadPublishesAudioAndSidecar(t *testing.T) {
	body := strings.Repeat("a", minValid*2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "podscribe-test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	d, layout := newDownloader(t, server.Client())
	work := item(layout, server.URL+"/ep1.mp3")
	result, err := d.Download(context.Background(), work)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if result.Bytes != int64(len(body)) || result.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	data, err := os.ReadFile(work.Target)
	if err != nil || string(data) != body {
		t.Fatalf("unexpected target content (err=%v)", err)
	}

	raw, err := os.ReadFile(layout.SidecarPath("Show", "Episode 1"))
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var sidecar download.Sidecar
	if err := json.Unmarshal(raw, &sidecar); err != nil {
		t.Fatalf("decode sidecar: %v", err)
	}
	if sidecar.URL != work.Source || sidecar.Bytes != int64(len(body)) || sidecar.DownloadedAt.IsZero() {
		t.Fatalf("unexpected sidecar: %+v", sidecar)
	}
	assertNoTempFiles(t, filepath.Dir(work.Target))
}

func TestDownloadRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(strings.Repeat("b", minValid)))
	}))
	defer server.Close()

	d, layout := newDownloader(t, server.Client())
	result, err := d.Download(context.Background(), item(layout, server.URL+"/ep1.mp3"))
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if result.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", result.Attempts)
	}
}

func TestDownloadGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d, layout := newDownloader(t, server.Client())
	work := item(layout, server.URL+"/ep1.mp3")
	_, err := d.Download(context.Background(), work)
	if !errors.Is(err, faults.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", calls.Load())
	}
	if _, err := os.Stat(work.Target); !os.IsNotExist(err) {
		t.Fatalf("expected no target after failure, stat err=%v", err)
	}
}

func TestDownloadDoesNotRetryPermanentFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	d, layout := newDownloader(t, server.Client())
	_, err := d.Download(context.Background(), item(layout, server.URL+"/gone.mp3"))
	if !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single request, got %d", calls.Load())
	}
}

func TestDownloadRejectsUndersizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("tiny"))
	}))
	defer server.Close()

	d, layout := newDownloader(t, server.Client())
	work := item(layout, server.URL+"/ep1.mp3")
	_, err := d.Download(context.Background(), work)
	if !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := os.Stat(work.Target); !os.IsNotExist(err) {
		t.Fatalf("undersized body must not be published, stat err=%v", err)
	}
	assertNoTempFiles(t, filepath.Dir(work.Target))
}

func TestDownloadRequiresURL(t *testing.T) {
	d, layout := newDownloader(t, nil)
	work := item(layout, "")
	if _, err := d.Download(context.Background(), work); !errors.Is(err, faults.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func chunkedHandler(chunks, size int, gap time.Duration) http.HandlerFunc {
	chunk := []byte(strings.Repeat("b", size))
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		for i := 0; i < chunks; i++ {
			if i > 0 {
				select {
				case <-time.After(gap):
				case <-r.Context().Done():
					return
				}
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func TestDownloadSteadyStreamOutlastsTimeout(t *testing.T) {
	server := httptest.NewServer(chunkedHandler(12, 1024, 80*time.Millisecond))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithMinValidBytes(minValid))
	layout := archive.NewLayout(cfg)
	d := download.New(nil, layout, 400*time.Millisecond,
		download.WithMaxAttempts(1),
		download.WithLogger(logging.NewNop()),
	)
	work := item(layout, server.URL+"/long.mp3")
	result, err := d.Download(context.Background(), work)
	if err != nil {
		t.Fatalf("steady transfer longer than the timeout failed: %v", err)
	}
	if result.Bytes != 12*1024 || result.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestDownloadStalledStreamTimesOut(t *testing.T) {
	server := httptest.NewServer(chunkedHandler(8, 1024, 5*time.Second))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithMinValidBytes(minValid))
	layout := archive.NewLayout(cfg)
	d := download.New(nil, layout, 150*time.Millisecond,
		download.WithMaxAttempts(1),
		download.WithLogger(logging.NewNop()),
	)
	work := item(layout, server.URL+"/stalled.mp3")
	_, err := d.Download(context.Background(), work)
	if !errors.Is(err, faults.ErrTimeout) || !errors.Is(err, httpclient.ErrIdle) {
		t.Fatalf("expected idle timeout, got %v", err)
	}
	if !faults.Retryable(err) {
		t.Fatal("idle timeout should be retryable")
	}
	if _, statErr := os.Stat(work.Target); !os.IsNotExist(statErr) {
		t.Fatalf("expected no published audio, stat err=%v", statErr)
	}
	assertNoTempFiles(t, filepath.Dir(work.Target))
}
