// Package upload drives the chunked upload protocol for one file.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"vidrelay/internal/logging"
	"vidrelay/internal/services"
	"vidrelay/internal/services/converter"
)

var (
	// ErrEmptyFile is returned for zero-byte sources; no request is sent.
	ErrEmptyFile = errors.New("upload: file is empty")
	// ErrChunkRetriesExhausted means one chunk failed on every attempt.
	ErrChunkRetriesExhausted = errors.New("upload: chunk retries exhausted")
	// ErrMergeNotConfirmed means every chunk was accepted but the server never
	// sent the merge-complete message, which may indicate a lost response.
	ErrMergeNotConfirmed = errors.New("upload: merge not confirmed")
)

// ChunkPoster sends one chunk to the conversion service.
type ChunkPoster interface {
	PostChunk(ctx context.Context, chunk converter.Chunk) (converter.ChunkResponse, error)
}

// Settings control chunking and retry behaviour.
type Settings struct {
	ChunkSize    int64
	MaxRetries   int
	RetryDelay   time.Duration
	MergeMessage string
}

// Result describes a confirmed upload.
type Result struct {
	SessionToken string
	TotalChunks  int
	ChunksSent   int
	Size         int64
}

// Uploader sends files chunk by chunk.
type Uploader struct {
	client   ChunkPoster
	settings Settings
	logger   *slog.Logger
	sleeper  func(context.Context, time.Duration) error
}

// Option customizes the uploader.
type Option func(*Uploader)

// WithSleeper overrides how retry delays are waited (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(u *Uploader) {
		if sleeper != nil {
			u.sleeper = sleeper
		}
	}
}

// New constructs an uploader.
func New(client ChunkPoster, settings Settings, logger *slog.Logger, opts ...Option) *Uploader {
	if settings.ChunkSize <= 0 {
		settings.ChunkSize = 10 << 20
	}
	if settings.MaxRetries < 0 {
		settings.MaxRetries = 0
	}
	u := &Uploader{
		client:   client,
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "upload"),
		sleeper:  sleepContext,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// TotalChunks returns ceil(size / chunkSize).
func TotalChunks(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// Upload sends path with the given per-folder arguments. It returns once the
// server confirms the merge.
func (u *Uploader) Upload(ctx context.Context, path, additionalArgs string) (Result, error) {
	logger := logging.WithContext(ctx, u.logger)

	file, err := os.Open(path)
	if err != nil {
		return Result{}, services.Wrap(services.ErrFilesystem, "upload", "open", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Result{}, services.Wrap(services.ErrFilesystem, "upload", "stat", path, err)
	}
	size := info.Size()
	if size == 0 {
		return Result{}, ErrEmptyFile
	}

	filename := filepath.Base(path)
	total := TotalChunks(size, u.settings.ChunkSize)
	logger.Info("upload started",
		logging.String(logging.FieldEventType, "upload_started"),
		logging.String("filename", filename),
		logging.Int64("size_bytes", size),
		logging.Int("total_chunks", total),
		logging.Int64("chunk_size", u.settings.ChunkSize),
	)

	result := Result{TotalChunks: total, Size: size}
	buf := make([]byte, u.settings.ChunkSize)
	var token string

	for index := 0; index < total; index++ {
		offset := int64(index) * u.settings.ChunkSize
		n, err := file.ReadAt(buf, offset)
		if err != nil && !errors.Is(err, io.EOF) {
			return result, services.Wrap(services.ErrFilesystem, "upload", "read chunk",
				fmt.Sprintf("%s chunk %d", path, index), err)
		}
		if n == 0 {
			return result, services.Wrap(services.ErrFilesystem, "upload", "read chunk",
				fmt.Sprintf("%s shrank during upload at chunk %d", path, index), io.ErrUnexpectedEOF)
		}

		chunk := converter.Chunk{
			Filename:       filename,
			Index:          index,
			Total:          total,
			AdditionalArgs: additionalArgs,
			SessionToken:   token,
			Data:           buf[:n],
		}
		resp, err := u.sendChunk(ctx, logger, chunk)
		if err != nil {
			return result, err
		}
		result.ChunksSent++
		if resp.SessionID != "" {
			token = resp.SessionID
			result.SessionToken = token
		}
		if resp.Message == u.settings.MergeMessage {
			logger.Info("upload merged",
				logging.String(logging.FieldEventType, "upload_merged"),
				logging.String("filename", filename),
				logging.Int("chunks_sent", result.ChunksSent),
			)
			return result, nil
		}
		logger.Debug("chunk accepted",
			logging.String(logging.FieldEventType, "chunk_accepted"),
			logging.Int("chunk_index", index),
			logging.Int("total_chunks", total),
			logging.String("message", resp.Message),
		)
	}

	return result, fmt.Errorf("%w: %d chunks sent for %s", ErrMergeNotConfirmed, result.ChunksSent, filename)
}

func (u *Uploader) sendChunk(ctx context.Context, logger *slog.Logger, chunk converter.Chunk) (converter.ChunkResponse, error) {
	attempts := u.settings.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := u.client.PostChunk(ctx, chunk)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		logger.Warn("chunk attempt failed",
			logging.String(logging.FieldEventType, "chunk_attempt_failed"),
			logging.Int("chunk_index", chunk.Index),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.String("error_category", services.Category(err)),
			logging.Error(err),
		)
		if ctx.Err() != nil {
			return converter.ChunkResponse{}, ctx.Err()
		}
		if attempt < attempts {
			if err := u.sleeper(ctx, u.settings.RetryDelay); err != nil {
				return converter.ChunkResponse{}, err
			}
		}
	}
	return converter.ChunkResponse{}, fmt.Errorf("%w: chunk %d/%d after %d attempts: %w",
		ErrChunkRetriesExhausted, chunk.Index+1, chunk.Total, attempts, lastErr)
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
