package config_test

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"podscribe/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	archive := filepath.Join(tempHome, "podcasts")
	if cfg.Paths.ArchiveDir != archive {
		t.Fatalf("unexpected archive dir: got %q want %q", cfg.Paths.ArchiveDir, archive)
	}
	if cfg.Paths.EpisodesDir != filepath.Join(archive, "episodes") {
		t.Fatalf("unexpected episodes dir: %q", cfg.Paths.EpisodesDir)
	}
	if cfg.Paths.TranscriptsDir != filepath.Join(archive, "transcripts") {
		t.Fatalf("unexpected transcripts dir: %q", cfg.Paths.TranscriptsDir)
	}
	if cfg.Paths.MetadataDir != filepath.Join(archive, "podcast_metadata") {
		t.Fatalf("unexpected metadata dir: %q", cfg.Paths.MetadataDir)
	}
	if cfg.Paths.OPMLPath != filepath.Join(archive, "podcasts.opml") {
		t.Fatalf("unexpected opml path: %q", cfg.Paths.OPMLPath)
	}
	wantLogs := filepath.Join(tempHome, ".local", "share", "podscribe", "logs")
	if cfg.Paths.LogDir != wantLogs {
		t.Fatalf("unexpected log dir: got %q want %q", cfg.Paths.LogDir, wantLogs)
	}
	if cfg.Journal.Path != filepath.Join(wantLogs, "journal.db") {
		t.Fatalf("unexpected journal path: %q", cfg.Journal.Path)
	}
	if cfg.Workers.MaxDownloaders != 30 || cfg.Workers.MaxTranscribers != 6 {
		t.Fatalf("unexpected worker budgets: %+v", cfg.Workers)
	}
	if cfg.Workers.ItemsPerWorker != 50 {
		t.Fatalf("unexpected items per worker: %d", cfg.Workers.ItemsPerWorker)
	}
	if cfg.PollInterval() != 10*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
	if cfg.StaleAfter() != 4*time.Hour {
		t.Fatalf("unexpected stale backstop: %s", cfg.StaleAfter())
	}
	if cfg.Archive.MinValidBytes != 100*1024 {
		t.Fatalf("unexpected min valid bytes: %d", cfg.Archive.MinValidBytes)
	}
	if !cfg.Journal.Enabled {
		t.Fatal("expected journal enabled by default")
	}
}

func TestLoadCustomConfigOverridesAndDerivesPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
archive_dir = "~/archive"
transcripts_dir = "~/text"

[workers]
max_downloaders = 4
max_transcribers = 2
items_per_worker = 10

[archive]
audio_extensions = ["MP3", "ogg", ".mp3"]

[transcription]
model = " Small.EN "
language = "EN"

[logging]
format = "JSON"
level = "Debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected config to resolve to %q, got %q (exists=%v)", configPath, resolved, exists)
	}
	if cfg.Paths.EpisodesDir != filepath.Join(tempHome, "archive", "episodes") {
		t.Fatalf("unexpected episodes dir: %q", cfg.Paths.EpisodesDir)
	}
	if cfg.Paths.TranscriptsDir != filepath.Join(tempHome, "text") {
		t.Fatalf("unexpected transcripts dir: %q", cfg.Paths.TranscriptsDir)
	}
	if cfg.Workers.MaxDownloaders != 4 || cfg.Workers.MaxTranscribers != 2 || cfg.Workers.ItemsPerWorker != 10 {
		t.Fatalf("unexpected workers section: %+v", cfg.Workers)
	}
	if got := strings.Join(cfg.Archive.AudioExtensions, ","); got != ".mp3,.ogg" {
		t.Fatalf("unexpected audio extensions: %q", got)
	}
	if cfg.Transcription.Model != "small.en" || cfg.Transcription.Language != "en" {
		t.Fatalf("unexpected transcription section: %+v", cfg.Transcription)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging section: %+v", cfg.Logging)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{name: "negative downloaders", mutate: func(c *config.Config) { c.Workers.MaxDownloaders = -1 }, want: "workers.max_downloaders"},
		{name: "zero threshold", mutate: func(c *config.Config) { c.Workers.ItemsPerWorker = 0 }, want: "workers.items_per_worker"},
		{name: "zero poll", mutate: func(c *config.Config) { c.Workers.PollIntervalSeconds = 0 }, want: "workers.poll_interval_seconds"},
		{name: "negative stale", mutate: func(c *config.Config) { c.Locks.StaleAfterHours = -1 }, want: "locks.stale_after_hours"},
		{name: "zero timeout", mutate: func(c *config.Config) { c.Download.TimeoutSeconds = 0 }, want: "download.timeout_seconds"},
		{name: "unknown model", mutate: func(c *config.Config) { c.Transcription.Model = "gigantic" }, want: "transcription.model"},
		{name: "negative notify timeout", mutate: func(c *config.Config) { c.Notifications.RequestTimeoutSeconds = -1 }, want: "notifications.request_timeout_seconds"},
		{name: "bad log format", mutate: func(c *config.Config) { c.Logging.Format = "xml" }, want: "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestZeroBudgetIsValid(t *testing.T) {
	cfg := config.Default()
	cfg.Workers.MaxDownloaders = 0
	cfg.Workers.MaxTranscribers = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected zero budgets to validate, got %v", err)
	}
}

func TestCreateSampleRoundTripsThroughLoad(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	for _, section := range []string{"paths", "workers", "archive", "locks", "download", "transcription", "journal", "notifications", "logging"} {
		if _, ok := raw[section]; !ok {
			t.Fatalf("sample config missing [%s] section", section)
		}
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Workers.StallTicks != 5 {
		t.Fatalf("unexpected stall ticks: %d", cfg.Workers.StallTicks)
	}
}

func TestEnsureDirectoriesDoesNotRecreateArchiveRoot(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	content := "[paths]\narchive_dir = " + strconv.Quote(filepath.Join(base, "unmounted")) + "\nlog_dir = " + strconv.Quote(filepath.Join(base, "logs")) + "\n"
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.ArchiveDir, cfg.Paths.MetadataDir, cfg.Paths.EpisodesDir, cfg.Paths.TranscriptsDir} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("expected %s to stay absent, stat err=%v", dir, err)
		}
	}
	if info, err := os.Stat(cfg.RegistryDir()); err != nil || !info.IsDir() {
		t.Fatalf("expected registry dir to be created: %v", err)
	}

	if err := os.MkdirAll(cfg.Paths.ArchiveDir, 0o755); err != nil {
		t.Fatalf("mount archive: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories after mount: %v", err)
	}
	for _, dir := range []string{cfg.Paths.MetadataDir, cfg.Paths.EpisodesDir, cfg.Paths.TranscriptsDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected %s to be created once the archive exists: %v", dir, err)
		}
	}
}

func TestEnsureDirectoriesLeavesMissingArchiveAlone(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ArchiveDir = filepath.Join(base, "missing")
	cfg.Paths.EpisodesDir = filepath.Join(cfg.Paths.ArchiveDir, "episodes")
	cfg.Paths.TranscriptsDir = filepath.Join(cfg.Paths.ArchiveDir, "transcripts")
	cfg.Paths.MetadataDir = filepath.Join(base, "meta")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if _, err := os.Stat(cfg.Paths.EpisodesDir); !os.IsNotExist(err) {
		t.Fatalf("expected episodes dir to stay absent, stat err=%v", err)
	}
	for _, dir := range []string{cfg.WorkerLogDir(), cfg.RegistryDir(), cfg.Paths.MetadataDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected %s to be created: %v", dir, err)
		}
	}
}
