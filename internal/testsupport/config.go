package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"podscribe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The archive roots exist on return; feed directories do not.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	archive := filepath.Join(base, "archive")
	cfgVal.Paths.ArchiveDir = archive
	cfgVal.Paths.EpisodesDir = filepath.Join(archive, "episodes")
	cfgVal.Paths.TranscriptsDir = filepath.Join(archive, "transcripts")
	cfgVal.Paths.MetadataDir = filepath.Join(archive, "podcast_metadata")
	cfgVal.Paths.OPMLPath = filepath.Join(archive, "podcasts.opml")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Journal.Path = filepath.Join(base, "logs", "journal.db")
	cfgVal.Locks.StaleAfterHours = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{cfgVal.Paths.EpisodesDir, cfgVal.Paths.TranscriptsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := cfgVal.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithBudgets overrides the downloader and transcriber budgets.
func WithBudgets(downloaders, transcribers int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workers.MaxDownloaders = downloaders
		b.cfg.Workers.MaxTranscribers = transcribers
	}
}

// WithItemsPerWorker overrides the multi-worker threshold.
func WithItemsPerWorker(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workers.ItemsPerWorker = n
	}
}

// WithMinValidBytes overrides the partial-download size threshold.
func WithMinValidBytes(n int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Archive.MinValidBytes = n
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, whisper and ffmpeg are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"whisper", "ffmpeg"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.ArchiveDir)
}
