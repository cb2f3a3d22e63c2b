// Package download retrieves converted files with byte-range resume.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"vidrelay/internal/fileutil"
	"vidrelay/internal/logging"
	"vidrelay/internal/services"
	"vidrelay/internal/services/converter"
	"vidrelay/internal/subtitles"
)

const readChunkSize = 32 << 10

var (
	// ErrRetriesExhausted means every attempt failed with a retryable error.
	ErrRetriesExhausted = errors.New("download: retries exhausted")
	// ErrOutputIsSource means the output path resolves to the uploaded source
	// video, which must never be written to.
	ErrOutputIsSource   = errors.New("download: output path is the source file")
)

// Opener starts a download response, optionally from a byte offset.
type Opener interface {
	OpenDownload(ctx context.Context, filename string, offset int64) (*converter.DownloadStream, error)
}

// Settings control retry behaviour and output placement.
type Settings struct {
	MaxRetries   int
	RetryDelay   time.Duration
	OutputSubdir string
}

// Result describes a completed download.
type Result struct {
	Path         string
	BytesWritten int64
	Resumed      bool
	Attempts     int
	Subtitles    subtitles.Outcome
}

// Downloader fetches converted outputs.
type Downloader struct {
	client    Opener
	settings  Settings
	extractor subtitles.Extractor
	logger    *slog.Logger
	sleeper   func(context.Context, time.Duration) error
}

// Option customizes the downloader.
type Option func(*Downloader)

// WithSleeper overrides how retry delays are waited (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(d *Downloader) {
		if sleeper != nil {
			d.sleeper = sleeper
		}
	}
}

// WithExtractor sets the subtitle extractor run after a clean download.
func WithExtractor(extractor subtitles.Extractor) Option {
	return func(d *Downloader) {
		if extractor != nil {
			d.extractor = extractor
		}
	}
}

// New constructs a downloader.
func New(client Opener, settings Settings, logger *slog.Logger, opts ...Option) *Downloader {
	if settings.MaxRetries < 0 {
		settings.MaxRetries = 0
	}
	d := &Downloader{
		client:    client,
		settings:  settings,
		extractor: subtitles.Noop{},
		logger:    logging.NewComponentLogger(logger, "download"),
		sleeper:   sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OutputPath returns where filename is written for targetFolder.
func (d *Downloader) OutputPath(targetFolder, filename string) string {
	return filepath.Join(targetFolder, d.settings.OutputSubdir, filepath.Base(filename))
}

// retryableStatus lists the statuses worth retrying.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Download fetches filename into targetFolder's output subdirectory, resuming
// from any partial file already there. sourcePath is the uploaded original;
// the download is refused when the output would land on it.
func (d *Downloader) Download(ctx context.Context, filename, targetFolder, sourcePath string) (Result, error) {
	logger := logging.WithContext(ctx, d.logger)
	outPath := d.OutputPath(targetFolder, filename)
	result := Result{Path: outPath}

	if sameFile(outPath, sourcePath) {
		err := services.Wrap(services.ErrConfiguration, "download", "resolve output", outPath, ErrOutputIsSource)
		logging.ErrorWithContext(logger, "download would overwrite source video", "download_output_is_source",
			logging.String("filename", filename),
			logging.String("output", outPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "set download.output_subdir to a directory name"),
		)
		return result, err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return result, services.Wrap(services.ErrFilesystem, "download", "mkdir", filepath.Dir(outPath), err)
	}

	attempts := d.settings.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result.Attempts = attempt
		written, resumed, err := d.attempt(ctx, logger, filename, outPath)
		result.BytesWritten += written
		result.Resumed = result.Resumed || resumed
		if err == nil {
			logger.Info("download complete",
				logging.String(logging.FieldEventType, "download_complete"),
				logging.String("filename", filename),
				logging.String("output", outPath),
				logging.Int64("bytes_written", result.BytesWritten),
				logging.Int("attempts", attempt),
			)
			result.Subtitles = d.extractSubtitles(ctx, logger, outPath)
			return result, nil
		}
		lastErr = err
		if !services.Retryable(err) || ctx.Err() != nil {
			logging.ErrorWithContext(logger, "download failed", "download_failed",
				logging.String("filename", filename),
				logging.Int("attempt", attempt),
				logging.String("error_category", services.Category(err)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, failureHint(err, outPath)),
			)
			return result, err
		}
		logger.Warn("download attempt failed",
			logging.String(logging.FieldEventType, "download_attempt_failed"),
			logging.String("filename", filename),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Error(err),
		)
		if attempt < attempts {
			if err := d.sleeper(ctx, d.settings.RetryDelay); err != nil {
				return result, err
			}
		}
	}
	return result, fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, filename, attempts, lastErr)
}

// attempt performs one request. Network and server errors come back tagged
// transient or permanent; local write failures are tagged filesystem.
func (d *Downloader) attempt(ctx context.Context, logger *slog.Logger, filename, outPath string) (int64, bool, error) {
	offset, err := fileutil.SizeOrZero(outPath)
	if err != nil {
		return 0, false, services.Wrap(services.ErrFilesystem, "download", "stat partial", outPath, err)
	}

	stream, err := d.client.OpenDownload(ctx, filename, offset)
	if err != nil {
		var statusErr *converter.StatusError
		if errors.As(err, &statusErr) && !retryableStatus(statusErr.StatusCode) {
			return 0, false, services.Wrap(services.ErrPermanent, "download", "request", filename, err)
		}
		return 0, false, err
	}
	defer stream.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	resumed := false
	switch {
	case stream.StatusCode == http.StatusPartialContent && offset > 0:
		flags |= os.O_APPEND
		resumed = true
		logger.Info("resuming download",
			logging.String(logging.FieldEventType, "download_resumed"),
			logging.String("filename", filename),
			logging.Int64("offset", offset),
		)
	case stream.StatusCode == http.StatusPartialContent:
		flags |= os.O_TRUNC
		logger.Warn("partial content without a range request",
			logging.String(logging.FieldEventType, "download_unexpected_partial"),
			logging.String("filename", filename),
		)
	case stream.StatusCode == http.StatusOK:
		flags |= os.O_TRUNC
		if offset > 0 {
			logger.Warn("server ignored range request, restarting download",
				logging.String(logging.FieldEventType, "download_range_ignored"),
				logging.String("filename", filename),
				logging.Int64("discarded_bytes", offset),
			)
		}
	default:
		return 0, false, services.Wrap(services.ErrPermanent, "download", "request", fmt.Sprintf("%s: unexpected http %d", filename, stream.StatusCode), nil)
	}

	file, err := os.OpenFile(outPath, flags, 0o644)
	if err != nil {
		return 0, resumed, services.Wrap(services.ErrFilesystem, "download", "open output", outPath, err)
	}

	written, copyErr := copyStream(file, stream.Body)
	closeErr := file.Close()
	if copyErr != nil {
		return written, resumed, copyErr
	}
	if closeErr != nil {
		return written, resumed, services.Wrap(services.ErrFilesystem, "download", "close output", outPath, closeErr)
	}
	return written, resumed, nil
}

// failureHint explains a permanent failure. A 416 means the range started at
// or past the end of the file, which happens when a completed download was
// never recorded.
func failureHint(err error, outPath string) string {
	var statusErr *converter.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return fmt.Sprintf("partial file may already be complete; verify %s and remove it or mark the entry with history forget", outPath)
	}
	return "the file stays pending and is retried next cycle"
}

// sameFile reports whether a and b name the same file, following symlinks
// when both exist.
func sameFile(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}

// copyStream copies in fixed-size reads, separating read failures (transient)
// from write failures (filesystem).
func copyStream(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, readChunkSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			w, writeErr := dst.Write(buf[:n])
			total += int64(w)
			if writeErr != nil {
				return total, services.Wrap(services.ErrFilesystem, "download", "write", "", writeErr)
			}
		}
		if errors.Is(readErr, io.EOF) {
			return total, nil
		}
		if readErr != nil {
			return total, services.Wrap(services.ErrTransient, "download", "read body", "", readErr)
		}
	}
}

func (d *Downloader) extractSubtitles(ctx context.Context, logger *slog.Logger, videoPath string) subtitles.Outcome {
	outcome, err := d.extractor.ExtractTextSubtitles(ctx, videoPath, filepath.Dir(videoPath))
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "subtitle_extraction"),
		logging.String("video", videoPath),
		logging.String("outcome", string(outcome)),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	if outcome == subtitles.Failed {
		logging.WarnWithContext(logger, "subtitle extraction failed", "subtitle_extraction",
			append(attrs, logging.String(logging.FieldImpact, "download kept without subtitles"))...)
	} else {
		logger.Info("subtitle extraction finished", logging.Args(attrs...)...)
	}
	return outcome
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
