package config

const (
	defaultConfigPath          = "~/.config/podscribe/config.toml"
	defaultArchiveDir          = "~/podcasts"
	defaultLogDir              = "~/.local/share/podscribe/logs"
	defaultMaxDownloaders      = 30
	defaultMaxTranscribers     = 6
	defaultItemsPerWorker      = 50
	defaultPollIntervalSeconds = 10
	defaultStallTicks          = 5
	defaultMinValidBytes       = 100 * 1024
	defaultStaleAfterHours     = 4
	defaultDownloadTimeout     = 60
	defaultDownloadAttempts    = 3
	defaultFeedRefreshMinutes  = 60
	defaultUserAgent           = "podscribe/dev (+https://github.com/podscribe)"
	defaultWhisperBinary       = "whisper"
	defaultWhisperModel        = "base"
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
)

var defaultAudioExtensions = []string{".mp3", ".m4a", ".wav"}

// Default returns a Config populated with repository defaults. Archive
// sub-directories left empty are derived from ArchiveDir during normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			ArchiveDir: defaultArchiveDir,
			LogDir:     defaultLogDir,
		},
		Workers: Workers{
			MaxDownloaders:      defaultMaxDownloaders,
			MaxTranscribers:     defaultMaxTranscribers,
			ItemsPerWorker:      defaultItemsPerWorker,
			PollIntervalSeconds: defaultPollIntervalSeconds,
			StallTicks:          defaultStallTicks,
		},
		Archive: Archive{
			MinValidBytes:   defaultMinValidBytes,
			AudioExtensions: append([]string(nil), defaultAudioExtensions...),
		},
		Locks: Locks{
			StaleAfterHours: defaultStaleAfterHours,
		},
		Download: Download{
			TimeoutSeconds:     defaultDownloadTimeout,
			UserAgent:          defaultUserAgent,
			MaxAttempts:        defaultDownloadAttempts,
			FeedRefreshMinutes: defaultFeedRefreshMinutes,
		},
		Transcription: Transcription{
			Binary: defaultWhisperBinary,
			Model:  defaultWhisperModel,
		},
		Journal: Journal{
			Enabled: true,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
