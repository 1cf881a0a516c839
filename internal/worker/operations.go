package worker

import (
	"context"
	"fmt"

	"podscribe/internal/archive"
	"podscribe/internal/download"
	"podscribe/internal/transcribe"
)

// RemnantRemover deletes sub-threshold audio left by an earlier attempt.
type RemnantRemover interface {
	RemoveRemnants(item archive.WorkItem) ([]string, error)
}

// Downloader fetches one episode.
type Downloader interface {
	Download(ctx context.Context, item archive.WorkItem) (download.Result, error)
}

// Transcriber transcribes one audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, item archive.WorkItem) (transcribe.Result, error)
}

// DownloadOperation removes partial remnants and then downloads the episode.
func DownloadOperation(remnants RemnantRemover, d Downloader) Operation {
	return Operation{
		Kind: archive.KindDownload,
		Perform: func(ctx context.Context, item archive.WorkItem) error {
			if _, err := remnants.RemoveRemnants(item); err != nil {
				return fmt.Errorf("clear partial download: %w", err)
			}
			_, err := d.Download(ctx, item)
			return err
		},
	}
}

// TranscribeOperation transcribes the item's audio.
func TranscribeOperation(t Transcriber) Operation {
	return Operation{
		Kind: archive.KindTranscribe,
		Perform: func(ctx context.Context, item archive.WorkItem) error {
			_, err := t.Transcribe(ctx, item)
			return err
		},
	}
}
