package archive

import (
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"podscribe/internal/config"
	"podscribe/internal/fileutil"
	"podscribe/internal/lockfile"
)

// Kind selects the operation a worker performs.
type Kind string

const (
	KindDownload   Kind = "download"
	KindTranscribe Kind = "transcribe"
)

// ParseKind validates a kind name.
func ParseKind(value string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindDownload:
		return KindDownload, true
	case KindTranscribe:
		return KindTranscribe, true
	default:
		return "", false
	}
}

// SentinelSuffix returns the lock suffix for the kind.
func (k Kind) SentinelSuffix() string {
	if k == KindTranscribe {
		return lockfile.TranscribeSuffix
	}
	return lockfile.DownloadSuffix
}

const (
	transcriptExt   = ".txt"
	sidecarExt      = ".json"
	detailedSuffix  = "_detailed.json"
	defaultAudioExt = ".mp3"
)

// Layout builds every archive path from feed and item names.
type Layout struct {
	EpisodesDir     string
	TranscriptsDir  string
	MetadataDir     string
	AudioExtensions []string
	MinValidBytes   int64
}

// NewLayout derives the layout from configuration.
func NewLayout(cfg *config.Config) Layout {
	return Layout{
		EpisodesDir:     cfg.Paths.EpisodesDir,
		TranscriptsDir:  cfg.Paths.TranscriptsDir,
		MetadataDir:     cfg.Paths.MetadataDir,
		AudioExtensions: append([]string(nil), cfg.Archive.AudioExtensions...),
		MinValidBytes:   cfg.Archive.MinValidBytes,
	}
}

func (l Layout) FeedEpisodesDir(feed string) string {
	return filepath.Join(l.EpisodesDir, feed)
}

func (l Layout) FeedTranscriptsDir(feed string) string {
	return filepath.Join(l.TranscriptsDir, feed)
}

// AudioPath is where a downloaded episode is stored.
func (l Layout) AudioPath(feed, item, ext string) string {
	return filepath.Join(l.FeedEpisodesDir(feed), item+ext)
}

// SidecarPath is the metadata file written next to downloaded audio.
func (l Layout) SidecarPath(feed, item string) string {
	return filepath.Join(l.FeedEpisodesDir(feed), item+sidecarExt)
}

// TranscriptPath is the completed output of a transcription.
func (l Layout) TranscriptPath(feed, item string) string {
	return filepath.Join(l.FeedTranscriptsDir(feed), item+transcriptExt)
}

// DetailedTranscriptPath holds the structured transcription record.
func (l Layout) DetailedTranscriptPath(feed, item string) string {
	return filepath.Join(l.FeedTranscriptsDir(feed), item+detailedSuffix)
}

// ListingPath is the cached feed listing.
func (l Layout) ListingPath(feed string) string {
	return filepath.Join(l.MetadataDir, feed+sidecarExt)
}

// SentinelPath is the lock file guarding target.
func SentinelPath(target string, kind Kind) string {
	return target + kind.SentinelSuffix()
}

// LockRoots lists the directories that may contain sentinels.
func (l Layout) LockRoots() []string {
	return []string{l.EpisodesDir, l.TranscriptsDir}
}

// IsAudio reports whether name has a recognised audio extension.
func (l Layout) IsAudio(name string) bool {
	if fileutil.IsTempName(name) || lockfile.IsSentinel(name) {
		return false
	}
	return slices.Contains(l.AudioExtensions, strings.ToLower(filepath.Ext(name)))
}

// AudioExtension picks the file extension for an episode download: the URL's
// extension when recognised, else one derived from the enclosure MIME type,
// else .mp3.
func (l Layout) AudioExtension(ep Episode) string {
	if parsed, err := url.Parse(ep.URL); err == nil {
		ext := strings.ToLower(path.Ext(parsed.Path))
		if slices.Contains(l.AudioExtensions, ext) {
			return ext
		}
	}
	if ep.Type != "" {
		switch strings.ToLower(ep.Type) {
		case "audio/mpeg", "audio/mp3":
			return ".mp3"
		case "audio/mp4", "audio/x-m4a", "audio/m4a", "audio/aac":
			return ".m4a"
		case "audio/wav", "audio/x-wav", "audio/wave":
			return ".wav"
		}
		if exts, err := mime.ExtensionsByType(ep.Type); err == nil {
			for _, ext := range exts {
				if slices.Contains(l.AudioExtensions, ext) {
					return ext
				}
			}
		}
	}
	return defaultAudioExt
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func isTranscript(name string) bool {
	return strings.HasSuffix(name, transcriptExt) && !fileutil.IsTempName(name) && !lockfile.IsSentinel(name)
}
