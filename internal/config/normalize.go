package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeRemote()
	c.normalizeTransfers()
	if err := c.normalizeFolders(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeSubtitles()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeRemote() {
	if value, ok := os.LookupEnv("VIDRELAY_REMOTE_URL"); ok && strings.TrimSpace(value) != "" {
		c.Remote.BaseURL = value
	}
	c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(c.Remote.BaseURL), "/")
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = defaultRemoteBaseURL
	}
	if strings.TrimSpace(c.Remote.MergeMessage) == "" {
		c.Remote.MergeMessage = defaultMergeMessage
	}
	if c.Remote.StatusTimeout <= 0 {
		c.Remote.StatusTimeout = defaultStatusTimeout
	}
	if c.Remote.UploadTimeout <= 0 {
		c.Remote.UploadTimeout = defaultUploadTimeout
	}
	if c.Remote.DownloadConnectTimeout <= 0 {
		c.Remote.DownloadConnectTimeout = defaultDownloadConnectTimeout
	}
	if c.Remote.DownloadTimeout <= 0 {
		c.Remote.DownloadTimeout = defaultDownloadTimeout
	}
}

func (c *Config) normalizeTransfers() {
	if c.Upload.ChunkSizeMiB <= 0 {
		c.Upload.ChunkSizeMiB = defaultChunkSizeMiB
	}
	if c.Upload.RetryDelaySeconds < 0 {
		c.Upload.RetryDelaySeconds = 0
	}
	if c.Download.RetryDelaySeconds < 0 {
		c.Download.RetryDelaySeconds = 0
	}
	c.Download.OutputSubdir = strings.Trim(strings.TrimSpace(c.Download.OutputSubdir), "/\\")
	if c.Schedule.IntervalMinutes <= 0 {
		c.Schedule.IntervalMinutes = defaultIntervalMinutes
	}
}

func (c *Config) normalizeFolders() error {
	folders := make([]Folder, 0, len(c.Folders))
	seen := make(map[string]struct{}, len(c.Folders))
	for i, folder := range c.Folders {
		trimmed := strings.TrimSpace(folder.Path)
		if trimmed == "" {
			return fmt.Errorf("folders[%d].path must be set", i)
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			return fmt.Errorf("folders[%d].path: %w", i, err)
		}
		if _, dup := seen[expanded]; dup {
			continue
		}
		seen[expanded] = struct{}{}
		folders = append(folders, Folder{Path: expanded, AdditionalArgs: folder.AdditionalArgs})
	}
	c.Folders = folders
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.History.Path) == "" {
		c.History.Path = defaultHistoryPath
	}
	if c.History.Path, err = expandPath(c.History.Path); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	c.History.Backend = strings.ToLower(strings.TrimSpace(c.History.Backend))
	if c.History.Backend == "" {
		c.History.Backend = defaultHistoryBackend
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSubtitles() {
	c.Subtitles.FFprobeBinary = strings.TrimSpace(c.Subtitles.FFprobeBinary)
	if c.Subtitles.FFprobeBinary == "" {
		c.Subtitles.FFprobeBinary = defaultFFprobeBinary
	}
	c.Subtitles.FFmpegBinary = strings.TrimSpace(c.Subtitles.FFmpegBinary)
	if c.Subtitles.FFmpegBinary == "" {
		c.Subtitles.FFmpegBinary = defaultFFmpegBinary
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
