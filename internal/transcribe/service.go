package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"podscribe/internal/archive"
	"podscribe/internal/faults"
	"podscribe/internal/fileutil"
	"podscribe/internal/logging"
)

// Config captures runtime settings for whisper.
type Config struct {
	// Binary is the whisper executable name or path.
	Binary string
	// Model is the whisper model size (e.g., "base", "small.en").
	Model string
	// Language forces the spoken language. Empty lets whisper detect it.
	Language string
}

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "base"

// Service runs whisper against work items.
type Service struct {
	cfg           Config
	layout        archive.Layout
	logger        *slog.Logger
	commandRunner func(ctx context.Context, name string, args ...string) error
}

// NewService creates a transcription service.
func NewService(cfg Config, layout archive.Layout, logger *slog.Logger) *Service {
	if cfg.Binary == "" {
		cfg.Binary = "whisper"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Service{
		cfg:    cfg,
		layout: layout,
		logger: logging.NewComponentLogger(logger, "transcribe"),
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (s *Service) WithCommandRunner(runner func(ctx context.Context, name string, args ...string) error) {
	s.commandRunner = runner
}

// Result describes a published transcript.
type Result struct {
	TranscriptPath string
	DetailedPath   string
	Language       string
	Segments       int
	Elapsed        time.Duration
}

// Transcribe runs whisper on item.Source and publishes item.Target plus the
// detailed JSON beside it.
func (s *Service) Transcribe(ctx context.Context, item archive.WorkItem) (Result, error) {
	result := Result{
		TranscriptPath: item.Target,
		DetailedPath:   s.layout.DetailedTranscriptPath(item.Feed, item.Name),
	}
	if item.Source == "" {
		return result, faults.Wrap(faults.ErrValidation, "transcribe", "prepare", "source audio path required", nil)
	}
	outDir := filepath.Dir(item.Target)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return result, faults.Wrap(faults.ErrConfiguration, "transcribe", "ensure output dir", "", err)
	}
	s.removeLeftovers(item, result.DetailedPath)
	workDir, err := os.MkdirTemp(outDir, workDirPrefix(item.Name)+"*")
	if err != nil {
		return result, faults.Wrap(faults.ErrConfiguration, "transcribe", "create work dir", "", err)
	}
	defer os.RemoveAll(workDir)

	started := time.Now()
	if err := s.run(ctx, s.cfg.Binary, s.buildArgs(item.Source, workDir)...); err != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("whisper: %w", ctx.Err())
		}
		return result, faults.Wrap(faults.ErrExternalTool, "transcribe", "whisper", "", err)
	}
	result.Elapsed = time.Since(started)

	baseName := strings.TrimSuffix(filepath.Base(item.Source), filepath.Ext(item.Source))
	jsonPath := filepath.Join(workDir, baseName+".json")
	payload, err := LoadPayload(jsonPath)
	if err != nil {
		return result, faults.Wrap(faults.ErrValidation, "transcribe", "read whisper output", "", err)
	}
	result.Language = payload.Language
	result.Segments = len(payload.Segments)

	detailed := Detailed{
		Text:          payload.Transcript(),
		Model:         s.cfg.Model,
		AudioPath:     item.Source,
		Language:      payload.Language,
		TranscribedAt: time.Now().UTC(),
		Segments:      payload.Segments,
	}
	if err := fileutil.WriteJSONAtomic(result.DetailedPath, detailed); err != nil {
		return result, faults.Wrap(faults.ErrTransient, "transcribe", "publish detailed json", "", err)
	}
	if err := fileutil.WriteFileAtomic(item.Target, []byte(detailed.Text+"\n")); err != nil {
		return result, faults.Wrap(faults.ErrTransient, "transcribe", "publish transcript", "", err)
	}

	s.logger.Info("episode transcribed",
		logging.String(logging.FieldEventType, "transcribe_complete"),
		logging.Feed(item.Feed),
		logging.Item(item.Name),
		logging.String("model", s.cfg.Model),
		logging.String("language", result.Language),
		logging.Int("segments", result.Segments),
		logging.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

func workDirPrefix(name string) string {
	return "." + name + ".whisper-"
}

// removeLeftovers deletes work directories and temp files from an earlier,
// interrupted transcription of item.
func (s *Service) removeLeftovers(item archive.WorkItem, detailedPath string) {
	outDir := filepath.Dir(item.Target)
	var stale []string
	if entries, err := os.ReadDir(outDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() && strings.HasPrefix(entry.Name(), workDirPrefix(item.Name)) {
				path := filepath.Join(outDir, entry.Name())
				if err := os.RemoveAll(path); err != nil {
					s.logger.Debug("stale work dir not removed", logging.Path(path), logging.Error(err))
					continue
				}
				stale = append(stale, path)
			}
		}
	}
	for _, target := range []string{item.Target, detailedPath} {
		removed, err := fileutil.RemoveTemps(target)
		if err != nil {
			s.logger.Debug("stale temp files not removed", logging.Path(target), logging.Error(err))
		}
		stale = append(stale, removed...)
	}
	if len(stale) > 0 {
		s.logger.Info("removed leftovers of interrupted transcription",
			logging.String(logging.FieldEventType, "transcribe_leftovers_removed"),
			logging.Feed(item.Feed),
			logging.Item(item.Name),
			logging.Int("paths", len(stale)),
		)
	}
}

// run executes a command, using the custom runner if set.
func (s *Service) run(ctx context.Context, name string, args ...string) error {
	if s.commandRunner != nil {
		return s.commandRunner(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, tail(strings.TrimSpace(string(output)), 2048))
	}
	return nil
}

// buildArgs constructs the whisper command arguments.
func (s *Service) buildArgs(source, outputDir string) []string {
	args := []string{
		source,
		"--model", s.cfg.Model,
		"--output_dir", outputDir,
		"--output_format", "json",
		"--verbose", "False",
	}
	if s.cfg.Language != "" {
		args = append(args, "--language", s.cfg.Language)
	}
	return args
}

// Segment represents a transcribed segment from whisper JSON output.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Payload is the JSON document whisper writes.
type Payload struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}

// Transcript returns the plain text, falling back to the joined segments
// when the top-level text is empty.
func (p Payload) Transcript() string {
	if text := strings.TrimSpace(p.Text); text != "" {
		return text
	}
	parts := make([]string, 0, len(p.Segments))
	for _, seg := range p.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Detailed is the JSON document published beside each transcript.
type Detailed struct {
	Text          string    `json:"text"`
	Model         string    `json:"model"`
	AudioPath     string    `json:"audio_path"`
	Language      string    `json:"language,omitempty"`
	TranscribedAt time.Time `json:"transcribed_at"`
	Segments      []Segment `json:"segments"`
}

// LoadPayload loads a whisper JSON file.
func LoadPayload(jsonPath string) (Payload, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return Payload{}, err
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Payload{}, fmt.Errorf("parse whisper json: %w", err)
	}
	return payload, nil
}

func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
