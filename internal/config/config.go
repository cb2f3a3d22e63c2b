package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Remote contains connection settings for the conversion service.
type Remote struct {
	BaseURL                string `toml:"base_url"`
	MergeMessage           string `toml:"merge_message"`
	StatusTimeout          int    `toml:"status_timeout_seconds"`
	UploadTimeout          int    `toml:"upload_timeout_seconds"`
	DownloadConnectTimeout int    `toml:"download_connect_timeout_seconds"`
	DownloadTimeout        int    `toml:"download_timeout_seconds"`
}

// Upload contains chunked upload settings.
type Upload struct {
	ChunkSizeMiB      int `toml:"chunk_size_mib"`
	MaxRetries        int `toml:"max_retries"`
	RetryDelaySeconds int `toml:"retry_delay_seconds"`
}

// Download contains resumable download settings.
type Download struct {
	MaxRetries        int    `toml:"max_retries"`
	RetryDelaySeconds int    `toml:"retry_delay_seconds"`
	OutputSubdir      string `toml:"output_subdir"`
}

// Scan controls how monitored folders are enumerated.
type Scan struct {
	// Recursive descends into subdirectories. Off by default so output
	// folders written by the downloader are not re-discovered.
	Recursive bool `toml:"recursive"`
}

// Folder is a monitored watch target.
type Folder struct {
	Path           string `toml:"path"`
	AdditionalArgs string `toml:"additional_args"`
}

// History selects where transfer state is persisted.
type History struct {
	Path    string `toml:"path"`
	Backend string `toml:"backend"`
}

// Schedule contains daemon timing.
type Schedule struct {
	IntervalMinutes int `toml:"interval_minutes"`
}

// Subtitles configures post-download text subtitle extraction.
type Subtitles struct {
	Enabled       bool   `toml:"enabled"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	FFmpegBinary  string `toml:"ffmpeg_binary"`
}

// Notifications configures optional ntfy push messages.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Paths contains directory configuration.
type Paths struct {
	LogDir string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for vidrelay.
//
// Configuration sections by subsystem:
//   - Remote: conversion service URL, merge sentinel, and timeouts
//   - Upload: chunk size and per-chunk retry policy
//   - Download: download retry policy and output subdirectory
//   - Scan: scan depth
//   - Folders: monitored folders and their per-upload arguments
//   - History: persisted transfer state location and backend
//   - Schedule: daemon cycle interval
//   - Subtitles: optional text subtitle extraction after download
//   - Notifications: optional ntfy endpoint for cycle and download notices
//   - Paths: log directory
//   - Logging: log format and level
type Config struct {
	Remote    Remote    `toml:"remote"`
	Upload    Upload    `toml:"upload"`
	Download  Download  `toml:"download"`
	Scan      Scan      `toml:"scan"`
	Folders   []Folder  `toml:"folders"`
	History   History   `toml:"history"`
	Schedule  Schedule  `toml:"schedule"`
	Subtitles     Subtitles     `toml:"subtitles"`
	Notifications Notifications `toml:"notifications"`
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/vidrelay/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("vidrelay.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the log directory and the history file's parent.
// Monitored folders are never created; a missing folder is skipped at scan time.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.LogDir}
	if dir := filepath.Dir(c.History.Path); dir != "" && dir != "." {
		dirs = append(dirs, dir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the single-instance lock file guarding the history store.
func (c *Config) LockPath() string {
	return c.History.Path + ".lock"
}

// LogPath returns the agent log file location.
func (c *Config) LogPath() string {
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return ""
	}
	return filepath.Join(c.Paths.LogDir, "vidrelay.log")
}

// ChunkSizeBytes returns the upload chunk size in bytes.
func (c *Config) ChunkSizeBytes() int64 {
	return int64(c.Upload.ChunkSizeMiB) * 1024 * 1024
}

// UploadRetryDelay returns the fixed delay between chunk attempts.
func (c *Config) UploadRetryDelay() time.Duration {
	return time.Duration(c.Upload.RetryDelaySeconds) * time.Second
}

// DownloadRetryDelay returns the fixed delay between download attempts.
func (c *Config) DownloadRetryDelay() time.Duration {
	return time.Duration(c.Download.RetryDelaySeconds) * time.Second
}

// Interval returns the daemon cycle interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Schedule.IntervalMinutes) * time.Minute
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
