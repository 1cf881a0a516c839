package supervisor_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"podscribe/internal/alloc"
	"podscribe/internal/archive"
	"podscribe/internal/logging"
	"podscribe/internal/procs"
	"podscribe/internal/supervisor"
	"podscribe/internal/testsupport"
)

type fakeScanner struct {
	statuses []archive.FeedStatus
	err      error
}

func (f *fakeScanner) Feeds(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	names := make([]string, 0, len(f.statuses))
	for _, st := range f.statuses {
		names = append(names, st.Feed)
	}
	return names, nil
}

func (f *fakeScanner) Scan(context.Context, []string) ([]archive.FeedStatus, error) {
	return f.statuses, f.err
}

type fakeRegistry struct{ entries []procs.Entry }

func (f *fakeRegistry) List() ([]procs.Entry, error) { return f.entries, nil }

type launch struct {
	kind archive.Kind
	feed string
}

type fakeLauncher struct {
	nextPID  int
	launches []launch
	fail     map[string]bool
}

func (f *fakeLauncher) Launch(_ context.Context, kind archive.Kind, feed string) (int, error) {
	if f.fail[feed] {
		return 0, errors.New("fork: resource temporarily unavailable")
	}
	f.nextPID++
	f.launches = append(f.launches, launch{kind: kind, feed: feed})
	return 10000 + f.nextPID, nil
}

func (f *fakeLauncher) count(kind archive.Kind, feed string) int {
	n := 0
	for _, l := range f.launches {
		if l.kind == kind && l.feed == feed {
			n++
		}
	}
	return n
}

func newSupervisor(t *testing.T, scanner supervisor.Scanner, registry supervisor.Registry, launcher supervisor.Launcher, alive func(int) bool) *supervisor.Supervisor {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithBudgets(30, 6), testsupport.WithItemsPerWorker(50))
	cfg.Workers.StallTicks = 2
	sup, err := supervisor.New(supervisor.Options{
		Config:       cfg,
		Scanner:      scanner,
		Registry:     registry,
		Launcher:     launcher,
		Logger:       logging.NewNop(),
		ProcessAlive: alive,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sup
}

func alwaysAlive(int) bool { return true }

func TestPlanRespectsBudgetAndSoftThrottle(t *testing.T) {
	assignment := alloc.Assignment{{Feed: "A", Workers: 3}, {Feed: "B", Workers: 1}}

	launches := supervisor.Plan(archive.KindDownload, assignment, map[string]int{"A": 1}, 4)
	want := []supervisor.Launch{{Kind: archive.KindDownload, Feed: "A", Count: 2}, {Kind: archive.KindDownload, Feed: "B", Count: 1}}
	if !reflect.DeepEqual(launches, want) {
		t.Fatalf("unexpected launches: %+v", launches)
	}

	// A feed over target is left alone and a departed feed's workers still occupy slots.
	launches = supervisor.Plan(archive.KindDownload, assignment, map[string]int{"A": 5, "Gone": 1}, 8)
	want = []supervisor.Launch{{Kind: archive.KindDownload, Feed: "B", Count: 1}}
	if !reflect.DeepEqual(launches, want) {
		t.Fatalf("unexpected launches: %+v", launches)
	}

	if launches := supervisor.Plan(archive.KindDownload, assignment, map[string]int{"Gone": 4}, 4); len(launches) != 0 {
		t.Fatalf("expected no launches with a full pool, got %+v", launches)
	}
}

func TestTickLaunchesAllocatedWorkers(t *testing.T) {
	scanner := &fakeScanner{statuses: []archive.FeedStatus{
		{Feed: "X", Expected: 100, Downloaded: 80},
		{Feed: "Y", Expected: 3, Downloaded: 3, Transcribed: 3},
	}}
	launcher := &fakeLauncher{}
	sup := newSupervisor(t, scanner, &fakeRegistry{}, launcher, alwaysAlive)

	snap, err := sup.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := launcher.count(archive.KindTranscribe, "X"); got != 2 {
		t.Fatalf("expected 2 transcribe workers for X, got %d", got)
	}
	if got := launcher.count(archive.KindDownload, "X"); got != 1 {
		t.Fatalf("expected 1 download worker for X, got %d", got)
	}
	if len(launcher.launches) != 3 {
		t.Fatalf("unexpected launches: %+v", launcher.launches)
	}

	x := snap.Feeds[0]
	if x.Name != "X" || x.DownloadPercent != 80 || x.TranscribePercent != 0 || x.LiveTranscribeWorkers != 2 || x.TargetTranscribeWorkers != 2 {
		t.Fatalf("unexpected snapshot row: %+v", x)
	}
	if snap.Transcriptions.Remaining != 80 || snap.Transcriptions.Launched != 2 || snap.Downloads.Remaining != 20 {
		t.Fatalf("unexpected pool snapshot: %+v %+v", snap.Downloads, snap.Transcriptions)
	}

	// Launched workers that have not registered yet still count as live.
	if _, err := sup.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(launcher.launches) != 3 {
		t.Fatalf("expected no duplicate launches, got %+v", launcher.launches)
	}
}

func TestTickRelaunchesWhenLaunchedWorkerDied(t *testing.T) {
	scanner := &fakeScanner{statuses: []archive.FeedStatus{{Feed: "X", Expected: 10, Downloaded: 10}}}
	launcher := &fakeLauncher{}
	alive := true
	sup := newSupervisor(t, scanner, &fakeRegistry{}, launcher, func(int) bool { return alive })

	if _, err := sup.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	alive = false
	if _, err := sup.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := launcher.count(archive.KindTranscribe, "X"); got != 2 {
		t.Fatalf("expected relaunch after worker died, got %d launches", got)
	}
}

func TestTickCountsRegisteredWorkers(t *testing.T) {
	scanner := &fakeScanner{statuses: []archive.FeedStatus{{Feed: "X", Expected: 100, Downloaded: 80}}}
	registry := &fakeRegistry{entries: []procs.Entry{
		{PID: 1, Kind: archive.KindTranscribe, Feed: "X"},
		{PID: 2, Kind: archive.KindTranscribe, Feed: "X"},
		{PID: 3, Kind: archive.KindTranscribe, Feed: "X"},
		{PID: 4, Kind: archive.KindDownload, Feed: "X"},
	}}
	launcher := &fakeLauncher{}
	sup := newSupervisor(t, scanner, registry, launcher, alwaysAlive)

	snap, err := sup.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(launcher.launches) != 0 {
		t.Fatalf("expected no launches over target, got %+v", launcher.launches)
	}
	if snap.Feeds[0].LiveTranscribeWorkers != 3 || snap.Transcriptions.Live != 3 {
		t.Fatalf("excess workers must be reported, not killed: %+v", snap.Feeds[0])
	}
}

func TestTickContinuesAfterLaunchFailure(t *testing.T) {
	scanner := &fakeScanner{statuses: []archive.FeedStatus{
		{Feed: "A", Expected: 10, Downloaded: 10},
		{Feed: "B", Expected: 5, Downloaded: 5},
	}}
	launcher := &fakeLauncher{fail: map[string]bool{"A": true}}
	sup := newSupervisor(t, scanner, &fakeRegistry{}, launcher, alwaysAlive)

	if _, err := sup.Tick(context.Background()); err != nil {
		t.Fatalf("launch failure must not fail the tick: %v", err)
	}
	if launcher.count(archive.KindTranscribe, "B") != 1 {
		t.Fatalf("expected B to be launched despite A failing: %+v", launcher.launches)
	}

	launcher.fail = nil
	if _, err := sup.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if launcher.count(archive.KindTranscribe, "A") != 1 {
		t.Fatalf("expected A to be retried next tick: %+v", launcher.launches)
	}
}

func TestTickFlagsStalledFeeds(t *testing.T) {
	scanner := &fakeScanner{statuses: []archive.FeedStatus{{Feed: "X", Expected: 100, Downloaded: 10, Transcribed: 10}}}
	registry := &fakeRegistry{entries: []procs.Entry{{PID: 1, Kind: archive.KindDownload, Feed: "X"}}}
	sup := newSupervisor(t, scanner, registry, nil, alwaysAlive)

	var snap supervisor.Snapshot
	for i := range 3 {
		var err error
		snap, err = sup.Tick(context.Background())
		if err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
		if i < 2 && snap.Feeds[0].Stalled {
			t.Fatalf("flagged stalled too early at tick %d", i+1)
		}
	}
	if !snap.Feeds[0].Stalled || len(snap.Stalled()) != 1 {
		t.Fatalf("expected X to be stalled: %+v", snap.Feeds[0])
	}

	scanner.statuses[0].Downloaded = 11
	snap, _ = sup.Tick(context.Background())
	if snap.Feeds[0].Stalled {
		t.Fatal("progress must clear the stall flag")
	}
}

func TestTickPropagatesArchiveUnavailable(t *testing.T) {
	scanner := &fakeScanner{err: fmt.Errorf("%w: gone", archive.ErrArchiveUnavailable)}
	sup := newSupervisor(t, scanner, &fakeRegistry{}, &fakeLauncher{}, alwaysAlive)
	if _, err := sup.Tick(context.Background()); !errors.Is(err, archive.ErrArchiveUnavailable) {
		t.Fatalf("expected archive unavailable, got %v", err)
	}
}

func TestRunFailsWhenArchiveMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.RemoveAll(cfg.Paths.ArchiveDir); err != nil {
		t.Fatalf("remove archive: %v", err)
	}
	sup, err := supervisor.New(supervisor.Options{Config: cfg, Scanner: &fakeScanner{}, Registry: &fakeRegistry{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Run(context.Background()); !errors.Is(err, archive.ErrArchiveUnavailable) {
		t.Fatalf("expected archive unavailable, got %v", err)
	}
}

func TestRunStopsPromptlyOnCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workers.PollIntervalSeconds = 60
	ctx, cancel := context.WithCancel(context.Background())
	reports := 0
	sup, err := supervisor.New(supervisor.Options{
		Config:   cfg,
		Scanner:  &fakeScanner{statuses: []archive.FeedStatus{{Feed: "X", Expected: 1}}},
		Registry: &fakeRegistry{},
		Launcher: &fakeLauncher{},
		Reporter: supervisor.ReporterFunc(func(supervisor.Snapshot) {
			reports++
			cancel()
		}),
		ProcessAlive: alwaysAlive,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancellation")
	}
	if reports != 1 {
		t.Fatalf("expected one report, got %d", reports)
	}
}

func TestTickWithArchiveScanner(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBudgets(30, 6), testsupport.WithItemsPerWorker(50))
	layout := archive.NewLayout(cfg)
	for i := 1; i <= 80; i++ {
		testsupport.WriteFile(t, layout.AudioPath("X", fmt.Sprintf("Episode %03d", i), ".mp3"), cfg.Archive.MinValidBytes)
	}
	scanner := archive.NewScanner(layout, nil, nil, logging.NewNop())
	launcher := &fakeLauncher{}
	registry := procs.NewRegistry(filepath.Join(t.TempDir(), "registry"), logging.NewNop())
	sup, err := supervisor.New(supervisor.Options{Config: cfg, Scanner: scanner, Registry: registry, Launcher: launcher, ProcessAlive: alwaysAlive})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap, err := sup.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if launcher.count(archive.KindTranscribe, "X") != 2 || launcher.count(archive.KindDownload, "X") != 0 {
		t.Fatalf("unexpected launches: %+v", launcher.launches)
	}
	if snap.Feeds[0].Total != 80 || snap.Feeds[0].DownloadPercent != 100 {
		t.Fatalf("unexpected row: %+v", snap.Feeds[0])
	}
}

func TestExecLauncherArgsAndLogPath(t *testing.T) {
	l := supervisor.NewExecLauncher("/usr/bin/podscribe", "/etc/podscribe.toml", "/var/log/podscribe/workers", nil)
	args := l.Args(archive.KindDownload, "Tech Talk")
	want := []string{"worker", "download", "--feed", "Tech Talk", "--config", "/etc/podscribe.toml"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("unexpected args: %v", args)
	}
	if got := l.LogPath(archive.KindTranscribe, "Tech Talk"); got != "/var/log/podscribe/workers/transcribe_Tech Talk.log" {
		t.Fatalf("unexpected log path %q", got)
	}
}

func TestExecLauncherStartsDetachedProcess(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-podscribe")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho \"$@\"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	l := supervisor.NewExecLauncher(script, "", filepath.Join(dir, "workers"), logging.NewNop())
	pid, err := l.Launch(context.Background(), archive.KindTranscribe, "Show")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("unexpected pid %d", pid)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, _ := os.ReadFile(l.LogPath(archive.KindTranscribe, "Show"))
		if string(data) == "worker transcribe --feed Show\n" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("worker output never reached its log file")
}
