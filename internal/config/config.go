package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the archive layout roots and runtime directories.
type Paths struct {
	ArchiveDir     string `toml:"archive_dir"`
	EpisodesDir    string `toml:"episodes_dir"`
	TranscriptsDir string `toml:"transcripts_dir"`
	MetadataDir    string `toml:"metadata_dir"`
	OPMLPath       string `toml:"opml_path"`
	LogDir         string `toml:"log_dir"`
}

// Workers contains worker budgets and supervisor timing.
type Workers struct {
	MaxDownloaders      int `toml:"max_downloaders"`
	MaxTranscribers     int `toml:"max_transcribers"`
	ItemsPerWorker      int `toml:"items_per_worker"`
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	StallTicks          int `toml:"stall_ticks"`
}

// Archive contains on-disk validity rules for downloaded audio.
type Archive struct {
	// MinValidBytes is the size below which an audio file is treated as a
	// partial download. Default: 100 KiB.
	MinValidBytes   int64    `toml:"min_valid_bytes"`
	AudioExtensions []string `toml:"audio_extensions"`
}

// Locks contains sentinel lock settings.
type Locks struct {
	// StaleAfterHours is only consulted when the advisory lock state cannot be
	// determined. Process liveness is always checked first. 0 disables it.
	StaleAfterHours float64 `toml:"stale_after_hours"`
}

// Download contains feed fetching and episode download settings.
type Download struct {
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	UserAgent          string `toml:"user_agent"`
	MaxAttempts        int    `toml:"max_attempts"`
	FeedRefreshMinutes int    `toml:"feed_refresh_minutes"`
}

// Transcription contains settings for the external speech-to-text binary.
type Transcription struct {
	Binary   string `toml:"binary"`
	Model    string `toml:"model"`
	Language string `toml:"language"`
}

// Journal contains settings for the worker event journal.
type Journal struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Notifications contains ntfy push settings. An empty topic disables them.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for podscribe.
//
// Configuration sections by subsystem:
//   - Paths: archive layout roots (episodes, transcripts, metadata) and logs
//   - Workers: worker budgets, multi-worker threshold, poll interval
//   - Archive: minimum valid audio size and recognised extensions
//   - Locks: sentinel staleness backstop
//   - Download: feed refresh and HTTP download settings
//   - Transcription: speech-to-text binary and model
//   - Journal: worker event journal
//   - Notifications: ntfy alerts for stalls, completed feeds, and fatal stops
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workers       Workers       `toml:"workers"`
	Archive       Archive       `toml:"archive"`
	Locks         Locks         `toml:"locks"`
	Download      Download      `toml:"download"`
	Transcription Transcription `toml:"transcription"`
	Journal       Journal       `toml:"journal"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("podscribe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the supervisor and workers write to.
// Nothing under the archive root is created while the root itself is missing:
// a missing archive is reported by the scanner instead of silently starting an
// empty one.
func (c *Config) EnsureDirectories() error {
	archiveReady := false
	if info, err := os.Stat(c.Paths.ArchiveDir); err == nil && info.IsDir() {
		archiveReady = true
	}
	for _, dir := range []string{c.Paths.LogDir, c.WorkerLogDir(), c.RegistryDir(), c.Paths.MetadataDir, c.Paths.EpisodesDir, c.Paths.TranscriptsDir} {
		if !archiveReady && withinDir(c.Paths.ArchiveDir, dir) {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func withinDir(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// PollInterval returns the supervisor tick interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workers.PollIntervalSeconds) * time.Second
}

// StaleAfter returns the sentinel age backstop. Zero disables it.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Locks.StaleAfterHours * float64(time.Hour))
}

// FeedRefreshInterval returns how long a cached feed listing is trusted.
func (c *Config) FeedRefreshInterval() time.Duration {
	return time.Duration(c.Download.FeedRefreshMinutes) * time.Minute
}

// DownloadTimeout returns the per-request HTTP timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutSeconds) * time.Second
}

// NotifyTimeout returns the ntfy request timeout.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// WorkerLogDir returns the directory worker processes log into.
func (c *Config) WorkerLogDir() string {
	return filepath.Join(c.Paths.LogDir, "workers")
}

// RegistryDir returns the directory holding worker registration files.
func (c *Config) RegistryDir() string {
	return filepath.Join(c.Paths.LogDir, "registry")
}

// SupervisorLogPath returns the monitor's log file.
func (c *Config) SupervisorLogPath() string {
	return filepath.Join(c.Paths.LogDir, "podscribe.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
