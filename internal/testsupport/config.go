package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"vidrelay/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// One monitored folder is created under the base directory and retry delays
// are zero.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Remote.BaseURL = "http://127.0.0.1:1"
	cfgVal.Folders = []config.Folder{{Path: filepath.Join(base, "videos")}}
	cfgVal.History.Path = filepath.Join(base, "state", "upload_history.json")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Upload.RetryDelaySeconds = 0
	cfgVal.Download.RetryDelaySeconds = 0
	cfgVal.Subtitles.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, folder := range builder.cfg.Folders {
		if err := os.MkdirAll(folder.Path, 0o755); err != nil {
			t.Fatalf("mkdir folder %s: %v", folder.Path, err)
		}
	}
	return builder.cfg
}

// WithRemote points the config at baseURL.
func WithRemote(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Remote.BaseURL = baseURL
	}
}

// WithFolder adds a monitored folder relative to the base directory.
func WithFolder(name, additionalArgs string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Folders = append(b.cfg.Folders, config.Folder{
			Path:           filepath.Join(b.baseDir, name),
			AdditionalArgs: additionalArgs,
		})
	}
}

// WithChunkSizeMiB overrides the upload chunk size.
func WithChunkSizeMiB(size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.ChunkSizeMiB = size
	}
}

// WithBackend selects the history backend.
func WithBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.History.Backend = backend
	}
}

// WithStubbedBinaries writes executable shell stubs for the provided names and
// prepends their directory to PATH. Each stub runs script, or exits 0 when
// script is empty.
func WithStubbedBinaries(script string, names ...string) ConfigOption {
	return func(b *configBuilder) {
		if script == "" {
			script = "exit 0\n"
		}
		binDir := StubBinaries(b.t, b.baseDir, script, names...)
		b.cfg.Subtitles.FFprobeBinary = filepath.Join(binDir, "ffprobe")
		b.cfg.Subtitles.FFmpegBinary = filepath.Join(binDir, "ffmpeg")
	}
}

// StubBinaries writes shell stubs into dir/bin and prepends it to PATH for
// the duration of the test.
func StubBinaries(t testing.TB, dir, script string, names ...string) string {
	t.Helper()
	binDir := filepath.Join(dir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	for _, name := range names {
		target := filepath.Join(binDir, name)
		if err := os.WriteFile(target, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
			t.Fatalf("write stub %s: %v", name, err)
		}
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	return binDir
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(filepath.Dir(cfg.History.Path))
}

// FolderPath returns the first monitored folder.
func FolderPath(cfg *config.Config) string {
	if len(cfg.Folders) == 0 {
		return ""
	}
	return cfg.Folders[0].Path
}
