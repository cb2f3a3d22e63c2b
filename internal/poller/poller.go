// Package poller reconciles the conversion service's finished files with
// pending upload records and triggers their download.
package poller

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/text/unicode/norm"

	"vidrelay/internal/download"
	"vidrelay/internal/history"
	"vidrelay/internal/logging"
	"vidrelay/internal/services"
)

// StatusFetcher lists the filenames the service has finished converting.
type StatusFetcher interface {
	FetchStatus(ctx context.Context) ([]string, error)
}

// Downloader fetches one converted file into a target folder.
type Downloader interface {
	Download(ctx context.Context, filename, targetFolder, sourcePath string) (download.Result, error)
}

// Saver persists the history after each completed download.
type Saver interface {
	Save(ctx context.Context, h *history.History) error
}

// Match pairs a converted filename with the source file it was uploaded from.
type Match struct {
	Filename   string
	SourcePath string
	Candidates int
	Download   download.Result
	Err        error
}

// Result summarizes one poll.
type Result struct {
	Converted int
	Matches   []Match
	Unmatched []string
}

// Downloaded counts matches whose download completed.
func (r Result) Downloaded() int {
	count := 0
	for _, match := range r.Matches {
		if match.Err == nil {
			count++
		}
	}
	return count
}

// Poller drives status reconciliation.
type Poller struct {
	status     StatusFetcher
	downloader Downloader
	saver      Saver
	logger     *slog.Logger
	now        func() time.Time

	// unmatchedSeen holds names already reported as unmatched; later
	// sightings log at debug. Polls run sequentially.
	unmatchedSeen map[string]struct{}
}

// Option customizes the poller.
type Option func(*Poller)

// WithClock overrides the time source used for download timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// New constructs a poller.
func New(status StatusFetcher, downloader Downloader, saver Saver, logger *slog.Logger, opts ...Option) *Poller {
	p := &Poller{
		status:     status,
		downloader: downloader,
		saver:      saver,
		logger:     logging.NewComponentLogger(logger, "poller"),
		now:        time.Now,

		unmatchedSeen: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll queries the service once and downloads every converted file that
// matches a pending record in h. A failed status request abandons the poll;
// per-file download failures are recorded in the result and the file stays
// pending.
func (p *Poller) Poll(ctx context.Context, h *history.History) (Result, error) {
	ctx = services.WithOperation(ctx, "status")
	logger := logging.WithContext(ctx, p.logger)

	names, err := p.status.FetchStatus(ctx)
	if err != nil {
		logging.WarnWithContext(logger, "status poll failed", "status_poll_failed",
			logging.String("error_category", services.Category(err)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "downloads deferred to next cycle"),
		)
		return Result{}, err
	}

	result := Result{Converted: len(names)}
	logger.Debug("status received",
		logging.String(logging.FieldEventType, "status_received"),
		logging.Int("converted_files", len(names)),
	)

	for _, name := range names {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		candidates := MatchPending(h.Pending(), name)
		if len(candidates) == 0 {
			result.Unmatched = append(result.Unmatched, name)
			p.logUnmatched(ctx, logger, name)
			continue
		}
		chosen := candidates[0]
		if len(candidates) > 1 {
			logging.WarnWithContext(logger, "converted filename matches several sources", "status_ambiguous",
				logging.String("filename", name),
				logging.Int("candidates", len(candidates)),
				logging.String("chosen", chosen.Path),
				logging.String(logging.FieldErrorHint, "give source files unique names across monitored folders"),
				logging.String(logging.FieldImpact, "the first source by path is downloaded first"),
			)
		}
		result.Matches = append(result.Matches, p.reconcile(ctx, h, name, chosen, len(candidates)))
	}
	return result, nil
}

func (p *Poller) logUnmatched(ctx context.Context, logger *slog.Logger, name string) {
	level := slog.LevelInfo
	if _, seen := p.unmatchedSeen[name]; seen {
		level = slog.LevelDebug
	}
	p.unmatchedSeen[name] = struct{}{}
	logger.Log(ctx, level, "converted file has no pending upload",
		logging.String(logging.FieldEventType, "status_unmatched"),
		logging.String("filename", name),
	)
}

func (p *Poller) reconcile(ctx context.Context, h *history.History, name string, entry history.Entry, candidates int) Match {
	ctx = services.WithOperation(services.WithSourcePath(ctx, entry.Path), "download")
	logger := logging.WithContext(ctx, p.logger)
	match := Match{Filename: name, SourcePath: entry.Path, Candidates: candidates}

	dl, err := p.downloader.Download(ctx, name, entry.Record.TargetFolder, entry.Path)
	match.Download = dl
	if err != nil {
		match.Err = err
		return match
	}

	now := p.now()
	h.MarkDownloaded(entry.Path, now)
	h.RecordDownloaded(entry.Path, history.DownloadRecord{
		DownloadedAt:     history.NewTimestamp(now),
		TargetFolder:     entry.Record.TargetFolder,
		OriginalFilename: name,
	})
	logger.Info("conversion retrieved",
		logging.String(logging.FieldEventType, "file_downloaded"),
		logging.String("filename", name),
		logging.String("output", dl.Path),
	)

	if p.saver != nil {
		if err := p.saver.Save(ctx, h); err != nil {
			logging.ErrorWithContext(logger, "history save failed", "history_save_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check permissions on the history file"),
			)
		}
	}
	return match
}

// MatchPending returns the pending entries whose source basename equals
// filename under NFC normalization, in the order given.
func MatchPending(pending []history.Entry, filename string) []history.Entry {
	want := norm.NFC.String(filename)
	var matches []history.Entry
	for _, entry := range pending {
		if norm.NFC.String(filepath.Base(entry.Path)) == want {
			matches = append(matches, entry)
		}
	}
	return matches
}
