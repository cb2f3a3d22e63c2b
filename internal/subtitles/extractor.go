package subtitles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"vidrelay/internal/config"
	"vidrelay/internal/logging"
	"vidrelay/internal/media/ffprobe"
	"vidrelay/internal/services"
)

// Outcome summarizes one extraction run.
type Outcome string

const (
	Extracted Outcome = "extracted"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
)

// Extractor pulls text subtitles out of a video into outputFolder.
type Extractor interface {
	ExtractTextSubtitles(ctx context.Context, videoPath, outputFolder string) (Outcome, error)
}

// Noop skips extraction entirely.
type Noop struct{}

func (Noop) ExtractTextSubtitles(context.Context, string, string) (Outcome, error) {
	return Skipped, nil
}

// ErrMissingTool is returned with Skipped when ffprobe or ffmpeg is absent.
var ErrMissingTool = errors.New("subtitle tool not available")

type inspectFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// FFmpegExtractor lists streams with ffprobe and converts each text subtitle
// stream to SubRip with ffmpeg.
type FFmpegExtractor struct {
	FFprobeBinary string
	FFmpegBinary  string

	logger   *slog.Logger
	inspect  inspectFunc
	lookPath func(string) (string, error)
}

// NewFFmpegExtractor builds an extractor using the given binaries.
func NewFFmpegExtractor(ffprobeBinary, ffmpegBinary string, logger *slog.Logger) *FFmpegExtractor {
	return &FFmpegExtractor{
		FFprobeBinary: defaultString(ffprobeBinary, "ffprobe"),
		FFmpegBinary:  defaultString(ffmpegBinary, "ffmpeg"),
		logger:        logging.NewComponentLogger(logger, "subtitles"),
		inspect:       ffprobe.Inspect,
		lookPath:      exec.LookPath,
	}
}

// FromConfig returns the extractor selected by cfg.Subtitles.
func FromConfig(cfg *config.Config, logger *slog.Logger) Extractor {
	if cfg == nil || !cfg.Subtitles.Enabled {
		return Noop{}
	}
	return NewFFmpegExtractor(cfg.Subtitles.FFprobeBinary, cfg.Subtitles.FFmpegBinary, logger)
}

// ExtractTextSubtitles writes <base>.<index>[.<lang>].srt for each text
// subtitle stream in videoPath.
func (e *FFmpegExtractor) ExtractTextSubtitles(ctx context.Context, videoPath, outputFolder string) (Outcome, error) {
	for _, binary := range []string{e.FFprobeBinary, e.FFmpegBinary} {
		if _, err := e.lookPath(binary); err != nil {
			return Skipped, fmt.Errorf("%w: %s", ErrMissingTool, binary)
		}
	}

	probe, err := e.inspect(ctx, e.FFprobeBinary, videoPath)
	if err != nil {
		return Failed, services.Wrap(services.ErrExternalTool, "subtitles", "ffprobe", videoPath, err)
	}
	streams := probe.TextSubtitleStreams()
	if len(streams) == 0 {
		e.logger.Debug("no text subtitle streams",
			logging.String(logging.FieldEventType, "subtitle_none"),
			logging.String("video", videoPath),
			logging.Int("subtitle_streams", probe.SubtitleStreamCount()),
		)
		return Skipped, nil
	}

	if err := os.MkdirAll(outputFolder, 0o755); err != nil {
		return Failed, services.Wrap(services.ErrFilesystem, "subtitles", "mkdir", outputFolder, err)
	}

	for _, stream := range streams {
		dest := filepath.Join(outputFolder, OutputName(videoPath, stream))
		if err := e.extractStream(ctx, videoPath, stream.Index, dest); err != nil {
			return Failed, services.Wrap(services.ErrExternalTool, "subtitles", "ffmpeg", dest, err)
		}
		e.logger.Info("subtitle stream extracted",
			logging.String(logging.FieldEventType, "subtitle_extracted"),
			logging.Int("stream_index", stream.Index),
			logging.String("codec", stream.CodecName),
			logging.String("language", stream.Language()),
			logging.String("output", dest),
		)
	}
	return Extracted, nil
}

func (e *FFmpegExtractor) extractStream(ctx context.Context, source string, index int, dest string) error {
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-map", fmt.Sprintf("0:%d", index),
		"-vn",
		"-an",
		"-dn",
		"-c:s", "srt",
		dest,
	}
	cmd := exec.CommandContext(ctx, e.FFmpegBinary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg extract subtitle: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// OutputName builds the SubRip filename for stream of videoPath.
func OutputName(videoPath string, stream ffprobe.Stream) string {
	base := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	parts := []string{base, strconv.Itoa(stream.Index)}
	if lang := stream.Language(); lang != "" {
		parts = append(parts, lang)
	}
	return strings.Join(parts, ".") + ".srt"
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
