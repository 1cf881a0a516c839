package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"podscribe/internal/archive"
	"podscribe/internal/config"
	"podscribe/internal/download"
	"podscribe/internal/feeds"
	"podscribe/internal/journal"
	"podscribe/internal/lockfile"
	"podscribe/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		if exists {
			c.configPath = resolved
		}
	})
	return c.config, c.configErr
}

// feedSource builds the listing source. Offline sources never touch the
// network and serve cached listings only.
func feedSource(cfg *config.Config, logger *slog.Logger, online bool) *feeds.CachedSource {
	opts := []feeds.SourceOption{
		feeds.WithRefreshInterval(cfg.FeedRefreshInterval()),
		feeds.WithLogger(logger),
	}
	if online {
		opts = append(opts, feeds.WithFetcher(feeds.NewHTTPFetcher(nil, cfg.Download.UserAgent, cfg.DownloadTimeout())))
	}
	return feeds.NewCachedSource(cfg.Paths.OPMLPath, archive.NewLayout(cfg), opts...)
}

func lockManager(cfg *config.Config, logger *slog.Logger, owner, runID string, onReclaim func(string, lockfile.Holder)) *lockfile.Manager {
	opts := []lockfile.Option{
		lockfile.WithOwner(owner),
		lockfile.WithRunID(runID),
		lockfile.WithStaleAfter(cfg.StaleAfter()),
		lockfile.WithLogger(logger),
	}
	if onReclaim != nil {
		opts = append(opts, lockfile.WithReclaimHook(onReclaim))
	}
	return lockfile.New(opts...)
}

func newDownloader(cfg *config.Config, logger *slog.Logger) *download.Downloader {
	return download.New(nil, archive.NewLayout(cfg), cfg.DownloadTimeout(),
		download.WithUserAgent(cfg.Download.UserAgent),
		download.WithMaxAttempts(cfg.Download.MaxAttempts),
		download.WithLogger(logger),
	)
}

// openJournal opens the event journal. Failure only disables journaling.
func openJournal(ctx context.Context, cfg *config.Config, logger *slog.Logger) *journal.Store {
	if !cfg.Journal.Enabled {
		return nil
	}
	store, err := journal.Open(ctx, cfg.Journal.Path)
	if err != nil {
		logging.WarnWithContext(logger, "journal unavailable; continuing without it", "journal_open_failed",
			logging.Path(cfg.Journal.Path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "failures are logged but not journaled"),
		)
		return nil
	}
	return store
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
