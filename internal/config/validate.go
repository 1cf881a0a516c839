package config

import (
	"errors"
	"fmt"
	"strings"
)

var validModels = map[string]struct{}{
	"tiny": {}, "tiny.en": {},
	"base": {}, "base.en": {},
	"small": {}, "small.en": {},
	"medium": {}, "medium.en": {},
	"large": {}, "large-v2": {}, "large-v3": {},
	"turbo": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	if err := c.validateLocks(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeoutSeconds < 0 {
		return errors.New("notifications.request_timeout_seconds must be zero or positive")
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.MaxDownloaders < 0 {
		return errors.New("workers.max_downloaders must be zero or positive")
	}
	if c.Workers.MaxTranscribers < 0 {
		return errors.New("workers.max_transcribers must be zero or positive")
	}
	if c.Workers.ItemsPerWorker <= 0 {
		return errors.New("workers.items_per_worker must be positive")
	}
	if c.Workers.PollIntervalSeconds <= 0 {
		return errors.New("workers.poll_interval_seconds must be positive")
	}
	if c.Workers.StallTicks < 0 {
		return errors.New("workers.stall_ticks must be zero or positive")
	}
	return nil
}

func (c *Config) validateArchive() error {
	if c.Archive.MinValidBytes < 0 {
		return errors.New("archive.min_valid_bytes must be zero or positive")
	}
	return nil
}

func (c *Config) validateLocks() error {
	if c.Locks.StaleAfterHours < 0 {
		return errors.New("locks.stale_after_hours must be zero or positive")
	}
	return nil
}

func (c *Config) validateDownload() error {
	if c.Download.TimeoutSeconds <= 0 {
		return errors.New("download.timeout_seconds must be positive")
	}
	if c.Download.FeedRefreshMinutes < 0 {
		return errors.New("download.feed_refresh_minutes must be zero or positive")
	}
	return nil
}

func (c *Config) validateTranscription() error {
	if _, ok := validModels[c.Transcription.Model]; !ok {
		return fmt.Errorf("transcription.model %q is not a known model size", c.Transcription.Model)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
	return nil
}
