package config

const (
	defaultRemoteBaseURL          = "http://localhost:5000"
	defaultMergeMessage           = "上传并合并完成，已加入转换队列"
	defaultStatusTimeout          = 10
	defaultUploadTimeout          = 300
	defaultDownloadConnectTimeout = 30
	defaultDownloadTimeout        = 7200
	defaultChunkSizeMiB           = 10
	defaultUploadMaxRetries       = 5
	defaultUploadRetryDelay       = 10
	defaultDownloadMaxRetries     = 3
	defaultDownloadRetryDelay     = 10
	defaultOutputSubdir           = "VR"
	defaultHistoryPath            = "~/.local/share/vidrelay/upload_history.json"
	defaultHistoryBackend         = "json"
	defaultIntervalMinutes        = 30
	defaultFFprobeBinary          = "ffprobe"
	defaultFFmpegBinary           = "ffmpeg"
	defaultNtfyTimeout            = 10
	defaultLogDir                 = "~/.local/share/vidrelay/logs"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"

	// BackendJSON stores history as a single JSON document.
	BackendJSON = "json"
	// BackendSQLite stores history in a SQLite database.
	BackendSQLite = "sqlite"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Remote: Remote{
			BaseURL:                defaultRemoteBaseURL,
			MergeMessage:           defaultMergeMessage,
			StatusTimeout:          defaultStatusTimeout,
			UploadTimeout:          defaultUploadTimeout,
			DownloadConnectTimeout: defaultDownloadConnectTimeout,
			DownloadTimeout:        defaultDownloadTimeout,
		},
		Upload: Upload{
			ChunkSizeMiB:      defaultChunkSizeMiB,
			MaxRetries:        defaultUploadMaxRetries,
			RetryDelaySeconds: defaultUploadRetryDelay,
		},
		Download: Download{
			MaxRetries:        defaultDownloadMaxRetries,
			RetryDelaySeconds: defaultDownloadRetryDelay,
			OutputSubdir:      defaultOutputSubdir,
		},
		History: History{
			Path:    defaultHistoryPath,
			Backend: defaultHistoryBackend,
		},
		Schedule: Schedule{
			IntervalMinutes: defaultIntervalMinutes,
		},
		Subtitles: Subtitles{
			Enabled:       true,
			FFprobeBinary: defaultFFprobeBinary,
			FFmpegBinary:  defaultFFmpegBinary,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeout,
		},
		Paths: Paths{
			LogDir: defaultLogDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
