package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// textSubtitleCodecs are subtitle codecs that ffmpeg can convert to SubRip.
var textSubtitleCodecs = map[string]struct{}{
	"subrip":   {},
	"ass":      {},
	"ssa":      {},
	"mov_text": {},
	"webvtt":   {},
	"text":     {},
}

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index       int         `json:"index"`
	CodecName   string      `json:"codec_name"`
	CodecType   string      `json:"codec_type"`
	Tags        Tags        `json:"tags"`
	Disposition Disposition `json:"disposition"`
}

// Tags holds the stream metadata vidrelay cares about.
type Tags struct {
	Language string `json:"language"`
	Title    string `json:"title"`
}

// Disposition holds stream flags reported as 0/1 integers.
type Disposition struct {
	Default int `json:"default"`
	Forced  int `json:"forced"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path) //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("ffprobe inspect: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Result{}, fmt.Errorf("ffprobe inspect: %w", err)
	}
	return Parse(output)
}

// Parse decodes ffprobe JSON output.
func Parse(data []byte) (Result, error) {
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// IsTextSubtitle reports whether the stream is a text-based subtitle.
func (s Stream) IsTextSubtitle() bool {
	if !strings.EqualFold(s.CodecType, "subtitle") {
		return false
	}
	_, ok := textSubtitleCodecs[strings.ToLower(s.CodecName)]
	return ok
}

// Language returns the normalized ISO 639 language tag, or "".
func (s Stream) Language() string {
	lang := strings.ToLower(strings.TrimSpace(s.Tags.Language))
	if lang == "und" {
		return ""
	}
	return lang
}

// SubtitleStreamCount returns the number of subtitle streams of any codec.
func (r Result) SubtitleStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "subtitle") {
			count++
		}
	}
	return count
}

// TextSubtitleStreams returns the text subtitle streams in index order.
func (r Result) TextSubtitleStreams() []Stream {
	var out []Stream
	for _, stream := range r.Streams {
		if stream.IsTextSubtitle() {
			out = append(out, stream)
		}
	}
	return out
}

// DurationSeconds returns the container duration in seconds, or 0 when unavailable.
func (r Result) DurationSeconds() float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
