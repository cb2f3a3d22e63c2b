package subtitles

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidrelay/internal/config"
	"vidrelay/internal/logging"
	"vidrelay/internal/media/ffprobe"
)

func stubExtractor(t *testing.T, probe ffprobe.Result, probeErr error, ffmpegScript string) (*FFmpegExtractor, string) {
	t.Helper()
	dir := t.TempDir()
	ffmpeg := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(ffmpeg, []byte("#!/bin/sh\n"+ffmpegScript), 0o755); err != nil {
		t.Fatal(err)
	}
	e := NewFFmpegExtractor("ffprobe", ffmpeg, logging.NewNop())
	e.lookPath = func(name string) (string, error) { return name, nil }
	e.inspect = func(context.Context, string, string) (ffprobe.Result, error) { return probe, probeErr }
	return e, dir
}

func TestOutputName(t *testing.T) {
	cases := []struct {
		stream ffprobe.Stream
		want   string
	}{
		{stream: ffprobe.Stream{Index: 2, Tags: ffprobe.Tags{Language: "ENG"}}, want: "movie.2.eng.srt"},
		{stream: ffprobe.Stream{Index: 5}, want: "movie.5.srt"},
		{stream: ffprobe.Stream{Index: 3, Tags: ffprobe.Tags{Language: "und"}}, want: "movie.3.srt"},
	}
	for _, tc := range cases {
		if got := OutputName("/out/VR/movie.mkv", tc.stream); got != tc.want {
			t.Fatalf("OutputName = %q, want %q", got, tc.want)
		}
	}
}

func TestExtractWritesEachTextStream(t *testing.T) {
	probe := ffprobe.Result{Streams: []ffprobe.Stream{
		{Index: 0, CodecType: "video", CodecName: "hevc"},
		{Index: 2, CodecType: "subtitle", CodecName: "subrip", Tags: ffprobe.Tags{Language: "eng"}},
		{Index: 3, CodecType: "subtitle", CodecName: "hdmv_pgs_subtitle"},
		{Index: 4, CodecType: "subtitle", CodecName: "mov_text"},
	}}
	// The last argument is the destination.
	script := "for last; do :; done\necho 1 > \"$last\"\n"
	e, dir := stubExtractor(t, probe, nil, script)

	outcome, err := e.ExtractTextSubtitles(context.Background(), "/remote/movie.mkv", dir)
	if err != nil || outcome != Extracted {
		t.Fatalf("outcome=%s err=%v", outcome, err)
	}
	for _, name := range []string{"movie.2.eng.srt", "movie.4.srt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "movie.3.srt")); err == nil {
		t.Fatal("bitmap subtitle stream must not be extracted")
	}
}

func TestExtractSkipsWithoutTextStreams(t *testing.T) {
	probe := ffprobe.Result{Streams: []ffprobe.Stream{{Index: 0, CodecType: "video"}}}
	e, dir := stubExtractor(t, probe, nil, "exit 0\n")
	outcome, err := e.ExtractTextSubtitles(context.Background(), "/v/a.mp4", dir)
	if err != nil || outcome != Skipped {
		t.Fatalf("outcome=%s err=%v", outcome, err)
	}
}

func TestExtractSkipsWhenToolMissing(t *testing.T) {
	e, dir := stubExtractor(t, ffprobe.Result{}, nil, "exit 0\n")
	e.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	outcome, err := e.ExtractTextSubtitles(context.Background(), "/v/a.mp4", dir)
	if outcome != Skipped || !errors.Is(err, ErrMissingTool) {
		t.Fatalf("outcome=%s err=%v", outcome, err)
	}
}

func TestExtractFailsOnToolError(t *testing.T) {
	e, dir := stubExtractor(t, ffprobe.Result{}, errors.New("invalid data"), "exit 0\n")
	if outcome, err := e.ExtractTextSubtitles(context.Background(), "/v/a.mp4", dir); outcome != Failed || err == nil {
		t.Fatalf("ffprobe failure: outcome=%s err=%v", outcome, err)
	}

	probe := ffprobe.Result{Streams: []ffprobe.Stream{{Index: 1, CodecType: "subtitle", CodecName: "ass"}}}
	e, dir = stubExtractor(t, probe, nil, "echo 'conversion failed' >&2\nexit 1\n")
	outcome, err := e.ExtractTextSubtitles(context.Background(), "/v/a.mp4", dir)
	if outcome != Failed || err == nil || !strings.Contains(err.Error(), "conversion failed") {
		t.Fatalf("ffmpeg failure: outcome=%s err=%v", outcome, err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Subtitles.Enabled = false
	if _, ok := FromConfig(&cfg, nil).(Noop); !ok {
		t.Fatal("disabled subtitles should use Noop")
	}
	cfg.Subtitles.Enabled = true
	if _, ok := FromConfig(&cfg, nil).(*FFmpegExtractor); !ok {
		t.Fatal("enabled subtitles should use FFmpegExtractor")
	}
	if outcome, err := (Noop{}).ExtractTextSubtitles(context.Background(), "a", "b"); outcome != Skipped || err != nil {
		t.Fatalf("Noop = %s %v", outcome, err)
	}
}
