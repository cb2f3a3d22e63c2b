package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"vidrelay/internal/config"
	"vidrelay/internal/download"
	"vidrelay/internal/history"
	"vidrelay/internal/logging"
	"vidrelay/internal/notifications"
	"vidrelay/internal/poller"
	"vidrelay/internal/scanner"
	"vidrelay/internal/services"
	"vidrelay/internal/services/converter"
	"vidrelay/internal/subtitles"
	"vidrelay/internal/upload"
)

// Uploader sends one file through the chunked upload protocol.
type Uploader interface {
	Upload(ctx context.Context, path, additionalArgs string) (upload.Result, error)
}

// Poller reconciles converted files with pending history records.
type Poller interface {
	Poll(ctx context.Context, h *history.History) (poller.Result, error)
}

// Scanner lists upload candidates.
type Scanner interface {
	Scan(ctx context.Context, processed scanner.Processed) []scanner.Candidate
}

// Components groups the collaborators of a Syncer.
type Components struct {
	Scanner  Scanner
	Uploader Uploader
	Poller   Poller
	Store    history.Backend
}

// Syncer runs transfer cycles against one history.
type Syncer struct {
	remoteURL  string
	components Components
	history    *history.History
	notifier   notifications.Service
	logger     *slog.Logger
	now        func() time.Time

	// pollFailing suppresses repeat error notices while the service stays down.
	pollFailing bool
}

// Option customizes the syncer.
type Option func(*Syncer)

// WithClock overrides the time source used for upload timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNotifier publishes download and cycle notices through svc.
func WithNotifier(svc notifications.Service) Option {
	return func(s *Syncer) {
		if svc != nil {
			s.notifier = svc
		}
	}
}

// New builds a syncer from explicit components and an already loaded history.
func New(remoteURL string, components Components, h *history.History, logger *slog.Logger, opts ...Option) (*Syncer, error) {
	if components.Scanner == nil || components.Uploader == nil || components.Poller == nil || components.Store == nil {
		return nil, errors.New("syncer requires scanner, uploader, poller, and store")
	}
	if h == nil {
		h = history.New()
	}
	s := &Syncer{
		remoteURL:  remoteURL,
		components: components,
		history:    h,
		notifier:   notifications.NewService(nil),
		logger:     logging.NewComponentLogger(logger, "syncer"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open wires the production components for cfg and loads the history.
// Callers must Close the returned syncer.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Syncer, error) {
	if cfg == nil {
		return nil, errors.New("syncer: config is nil")
	}
	client, err := converter.NewClient(converter.ConfigFromRemote(cfg.Remote))
	if err != nil {
		return nil, err
	}
	store, err := history.Open(cfg)
	if err != nil {
		return nil, err
	}
	h, err := store.Load(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	uploader := upload.New(client, upload.Settings{
		ChunkSize:    cfg.ChunkSizeBytes(),
		MaxRetries:   cfg.Upload.MaxRetries,
		RetryDelay:   cfg.UploadRetryDelay(),
		MergeMessage: cfg.Remote.MergeMessage,
	}, logger)
	downloader := download.New(client, download.Settings{
		MaxRetries:   cfg.Download.MaxRetries,
		RetryDelay:   cfg.DownloadRetryDelay(),
		OutputSubdir: cfg.Download.OutputSubdir,
	}, logger, download.WithExtractor(subtitles.FromConfig(cfg, logger)))

	components := Components{
		Scanner:  scanner.New(afero.NewOsFs(), cfg, logger),
		Uploader: uploader,
		Poller:   poller.New(client, downloader, store, logger),
		Store:    store,
	}
	opts = append([]Option{WithNotifier(notifications.NewService(cfg))}, opts...)
	s, err := New(client.BaseURL(), components, h, logger, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return s, nil
}

// History exposes the in-memory history.
func (s *Syncer) History() *history.History { return s.history }

// Close releases the history backend.
func (s *Syncer) Close() error {
	return s.components.Store.Close()
}

// RunOnce executes one full cycle. Per-file failures are reported in the
// returned Report and never abort the cycle; cancellation stops it between
// files.
func (s *Syncer) RunOnce(ctx context.Context) Report {
	report := Report{CycleID: uuid.NewString(), StartedAt: s.now()}
	ctx = services.WithCycleID(ctx, report.CycleID)
	logger := logging.WithContext(ctx, s.logger)

	logger.Info("sync cycle started",
		logging.String(logging.FieldEventType, "cycle_started"),
		logging.Int("pending_downloads", len(s.history.Pending())),
	)

	candidates := s.components.Scanner.Scan(ctx, s.history)
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		report.Files = append(report.Files, s.uploadOne(ctx, candidate))
	}

	if ctx.Err() == nil {
		pollResult, err := s.components.Poller.Poll(ctx, s.history)
		report.PollErr = err
		report.Unmatched = pollResult.Unmatched
		for _, match := range pollResult.Matches {
			report.Files = append(report.Files, downloadOutcome(match))
		}
	}

	if err := s.save(ctx); err != nil {
		report.SaveErr = err
	}
	report.Canceled = ctx.Err() != nil
	report.FinishedAt = s.now()

	summary := report.Summary()
	logger.Info("sync cycle finished",
		logging.String(logging.FieldEventType, "cycle_finished"),
		logging.Int("uploaded", summary.Uploaded),
		logging.Int("downloaded", summary.Downloaded),
		logging.Int("failed", summary.Failed),
		logging.Int("skipped", summary.Skipped),
		logging.Bool("canceled", report.Canceled),
		logging.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)
	s.notify(ctx, report)
	return report
}

func (s *Syncer) notify(ctx context.Context, report Report) {
	ctx = context.WithoutCancel(ctx)
	logger := logging.WithContext(ctx, s.logger)
	for _, file := range report.Files {
		if file.Status != StatusDownloaded {
			continue
		}
		if err := s.notifier.NotifyDownloaded(ctx, file.Filename, file.Output); err != nil {
			logger.Warn("download notification failed", logging.Error(err))
		}
	}

	switch {
	case report.PollErr != nil && !s.pollFailing:
		s.pollFailing = true
		if err := s.notifier.NotifyError(ctx, report.PollErr, "conversion service status"); err != nil {
			logger.Warn("error notification failed", logging.Error(err))
		}
	case report.PollErr == nil && !report.Canceled:
		s.pollFailing = false
	}

	summary := report.Summary()
	if summary.Uploaded+summary.Downloaded+summary.Failed == 0 {
		return
	}
	err := s.notifier.NotifyCycleCompleted(ctx, notifications.CycleSummary{
		Uploaded:   summary.Uploaded,
		Downloaded: summary.Downloaded,
		Failed:     summary.Failed,
		Duration:   report.FinishedAt.Sub(report.StartedAt),
	})
	if err != nil {
		logger.Warn("cycle notification failed", logging.Error(err))
	}
}

func (s *Syncer) uploadOne(ctx context.Context, candidate scanner.Candidate) FileOutcome {
	ctx = services.WithOperation(services.WithSourcePath(ctx, candidate.Path), "upload")
	logger := logging.WithContext(ctx, s.logger)
	outcome := FileOutcome{
		SourcePath: candidate.Path,
		Filename:   filepath.Base(candidate.Path),
		Action:     ActionUpload,
	}

	result, err := s.components.Uploader.Upload(ctx, candidate.Path, candidate.Folder.AdditionalArgs)
	if errors.Is(err, upload.ErrEmptyFile) {
		outcome.Status = StatusSkipped
		outcome.Detail = "empty file"
		logger.Info("empty file skipped",
			logging.String(logging.FieldEventType, "upload_skipped_empty"),
		)
		return outcome
	}
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		logging.WarnWithContext(logger, "upload failed", "upload_failed",
			logging.String("error_category", services.Category(err)),
			logging.Error(err),
		)
		return outcome
	}

	s.history.RecordUploaded(candidate.Path, history.UploadRecord{
		UploadedAt:     history.NewTimestamp(s.now()),
		RemoteBaseURL:  s.remoteURL,
		AdditionalArgs: candidate.Folder.AdditionalArgs,
		TargetFolder:   candidate.TargetFolder,
		Fingerprint:    candidate.Fingerprint,
		SessionToken:   result.SessionToken,
	})
	outcome.Status = StatusUploaded
	outcome.Detail = fmt.Sprintf("%d chunks", result.ChunksSent)
	if err := s.save(ctx); err != nil {
		outcome.Err = err
	}
	return outcome
}

func (s *Syncer) save(ctx context.Context) error {
	// Saves run even after cancellation.
	err := s.components.Store.Save(context.WithoutCancel(ctx), s.history)
	if err != nil {
		logging.ErrorWithContext(logging.WithContext(ctx, s.logger), "history save failed", "history_save_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions and free space for the history file"),
		)
	}
	return err
}

func downloadOutcome(match poller.Match) FileOutcome {
	outcome := FileOutcome{
		SourcePath: match.SourcePath,
		Filename:   match.Filename,
		Action:     ActionDownload,
		Status:     StatusDownloaded,
	}
	if match.Err != nil {
		outcome.Status = StatusFailed
		outcome.Err = match.Err
		return outcome
	}
	outcome.Output = match.Download.Path
	outcome.Detail = match.Download.Path
	if match.Download.Resumed {
		outcome.Detail += " (resumed)"
	}
	return outcome
}
