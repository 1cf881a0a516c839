package worker_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"podscribe/internal/alloc"
	"podscribe/internal/archive"
	"podscribe/internal/journal"
	"podscribe/internal/lockfile"
	"podscribe/internal/logging"
	"podscribe/internal/testsupport"
	"podscribe/internal/worker"
)

type memoryFinder struct {
	mu    sync.Mutex
	dir   string
	items []string
	done  map[string]bool
}

func (f *memoryFinder) item(name string) archive.WorkItem {
	target := fmt.Sprintf("%s/%s.txt", f.dir, name)
	return archive.WorkItem{Feed: "X", Name: name, Kind: archive.KindTranscribe, Target: target}
}

func (f *memoryFinder) Pending(context.Context, string, archive.Kind) ([]archive.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []archive.WorkItem
	for _, name := range f.items {
		if !f.done[name] {
			items = append(items, f.item(name))
		}
	}
	return items, nil
}

func (f *memoryFinder) Completed(item archive.WorkItem) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done[item.Name]
}

func (f *memoryFinder) markDone(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done[name] = true
}

type memoryJournal struct {
	mu     sync.Mutex
	events []journal.Event
}

func (j *memoryJournal) Record(_ context.Context, ev journal.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

func TestRunContinuesPastFailedItem(t *testing.T) {
	finder := &memoryFinder{dir: t.TempDir(), items: []string{"item1", "item2", "item3"}, done: map[string]bool{}}
	journalStore := &memoryJournal{}
	var attempts []string
	op := worker.Operation{
		Kind: archive.KindTranscribe,
		Perform: func(_ context.Context, item archive.WorkItem) error {
			attempts = append(attempts, item.Name)
			if item.Name == "item2" {
				return errors.New("decoder failure")
			}
			finder.markDone(item.Name)
			return nil
		},
	}
	w, err := worker.New(worker.Options{Feed: "X", Operation: op, Finder: finder, Journal: journalStore, RunID: "run-1", Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Completed != 2 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !finder.done["item1"] || !finder.done["item3"] || finder.done["item2"] {
		t.Fatalf("unexpected completion state: %v", finder.done)
	}
	if len(attempts) != 3 {
		t.Fatalf("failed item must be attempted once per pass, attempts=%v", attempts)
	}

	var failed []journal.Event
	for _, ev := range journalStore.events {
		if ev.Type == journal.EventFailed {
			failed = append(failed, ev)
		}
	}
	if len(failed) != 1 || failed[0].Item != "item2" || failed[0].RunID != "run-1" || failed[0].Detail == "" {
		t.Fatalf("unexpected failure events: %+v", failed)
	}

	for _, name := range finder.items {
		if _, err := os.Stat(finder.item(name).Sentinel()); !os.IsNotExist(err) {
			t.Fatalf("sentinel for %s left behind: %v", name, err)
		}
	}
}

func TestRunSkipsItemsClaimedElsewhere(t *testing.T) {
	finder := &memoryFinder{dir: t.TempDir(), items: []string{"a", "b"}, done: map[string]bool{}}
	other := lockfile.New()
	held := other.TryAcquire(finder.item("a").Sentinel())
	if held == nil {
		t.Fatal("expected to claim item a")
	}
	defer held.Release()

	var performed []string
	op := worker.Operation{Kind: archive.KindTranscribe, Perform: func(_ context.Context, item archive.WorkItem) error {
		performed = append(performed, item.Name)
		finder.markDone(item.Name)
		return nil
	}}
	w, err := worker.New(worker.Options{Feed: "X", Operation: op, Finder: finder, Locks: lockfile.New()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Skipped != 1 || result.Completed != 1 || len(performed) != 1 || performed[0] != "b" {
		t.Fatalf("unexpected run: result=%+v performed=%v", result, performed)
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	finder := &memoryFinder{dir: t.TempDir(), items: []string{"a", "b"}, done: map[string]bool{}}
	ctx, cancel := context.WithCancel(context.Background())
	op := worker.Operation{Kind: archive.KindTranscribe, Perform: func(ctx context.Context, item archive.WorkItem) error {
		cancel()
		return ctx.Err()
	}}
	w, err := worker.New(worker.Options{Feed: "X", Operation: op, Finder: finder})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result, err := w.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if result.Failed != 0 {
		t.Fatalf("cancellation must not count as failure: %+v", result)
	}
}

func TestRunLogsRunIDOnce(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "worker.log")
	base, err := logging.New(logging.Options{Format: "json", Level: "debug", Outputs: []string{logPath}})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	logger := logging.WithContext(logging.WithRunID(context.Background(), "run-9"), base)

	finder := &memoryFinder{dir: t.TempDir(), items: []string{"a"}, done: map[string]bool{}}
	op := worker.Operation{Kind: archive.KindTranscribe, Perform: func(_ context.Context, item archive.WorkItem) error {
		finder.markDone(item.Name)
		return nil
	}}
	w, err := worker.New(worker.Options{Feed: "X", Operation: op, Finder: finder, RunID: "run-9", Logger: logger})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected start and finish lines, got %q", content)
	}
	for _, line := range lines {
		if n := strings.Count(line, `"run_id":`); n != 1 {
			t.Fatalf("run_id appears %d times in %s", n, line)
		}
	}
}

func TestNewRequiresFeedAndOperation(t *testing.T) {
	if _, err := worker.New(worker.Options{}); err == nil {
		t.Fatal("expected error for empty options")
	}
	if _, err := worker.New(worker.Options{Feed: "X", Finder: &memoryFinder{}}); err == nil {
		t.Fatal("expected error without operation")
	}
}

type listing struct{ episodes []archive.Episode }

func (l listing) Feeds(context.Context) ([]string, error) { return []string{"X"}, nil }

func (l listing) Episodes(context.Context, string) ([]archive.Episode, error) { return l.episodes, nil }

func TestTwoTranscribeWorkersDrainFeed(t *testing.T) {
	const minValid = 100 * 1024
	cfg := testsupport.NewConfig(t, testsupport.WithBudgets(30, 6), testsupport.WithItemsPerWorker(50))
	layout := archive.NewLayout(cfg)

	episodes := make([]archive.Episode, 0, 100)
	for i := 1; i <= 100; i++ {
		name := fmt.Sprintf("Episode %03d", i)
		episodes = append(episodes, archive.Episode{Name: name, Title: name, URL: "https://cdn.example.com/" + name})
		if i <= 80 {
			testsupport.WriteFile(t, layout.AudioPath("X", name, ".mp3"), minValid)
		}
	}
	scanner := archive.NewScanner(layout, listing{episodes: episodes}, nil, logging.NewNop())
	ctx := context.Background()

	status := scanner.ScanFeed(ctx, "X")
	if status.Expected != 100 || status.Downloaded != 80 || status.TranscribeRemaining() != 80 {
		t.Fatalf("unexpected initial status: %+v", status)
	}
	assignment := alloc.Allocate([]alloc.Demand{{Feed: "X", Remaining: status.TranscribeRemaining()}}, cfg.Workers.MaxTranscribers, cfg.Workers.ItemsPerWorker)
	if got := assignment.Workers("X"); got != 2 {
		t.Fatalf("expected 2 transcription workers, got %d", got)
	}

	var mu sync.Mutex
	performed := make(map[string]int)
	op := worker.Operation{Kind: archive.KindTranscribe, Perform: func(_ context.Context, item archive.WorkItem) error {
		mu.Lock()
		performed[item.Name]++
		mu.Unlock()
		return os.WriteFile(item.Target, []byte("transcript\n"), 0o644)
	}}

	var wg sync.WaitGroup
	results := make([]worker.Result, 2)
	errs := make([]error, 2)
	for i := range 2 {
		w, err := worker.New(worker.Options{Feed: "X", Operation: op, Finder: scanner, Locks: lockfile.New()})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = w.Run(ctx)
		}()
	}
	wg.Wait()

	completed := 0
	for i := range 2 {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		completed += results[i].Completed
	}
	if completed != 80 {
		t.Fatalf("expected 80 completions, got %d", completed)
	}
	for name, n := range performed {
		if n != 1 {
			t.Fatalf("%s transcribed %d times", name, n)
		}
	}

	status = scanner.ScanFeed(ctx, "X")
	if status.Transcribed != 80 || status.TranscribeRemaining() != 0 {
		t.Fatalf("unexpected final status: %+v", status)
	}
	next := alloc.Allocate([]alloc.Demand{{Feed: "X", Remaining: status.TranscribeRemaining()}}, cfg.Workers.MaxTranscribers, cfg.Workers.ItemsPerWorker)
	if next.Workers("X") != 0 {
		t.Fatalf("expected no workers once drained, got %d", next.Workers("X"))
	}
}
