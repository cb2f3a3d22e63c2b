package syncer_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"vidrelay/internal/config"
	"vidrelay/internal/download"
	"vidrelay/internal/history"
	"vidrelay/internal/logging"
	"vidrelay/internal/notifications"
	"vidrelay/internal/poller"
	"vidrelay/internal/scanner"
	"vidrelay/internal/syncer"
	"vidrelay/internal/testsupport"
	"vidrelay/internal/upload"
)

const mib = 1 << 20

func openSyncer(t *testing.T, cfg *config.Config) *syncer.Syncer {
	t.Helper()
	s, err := syncer.Open(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunOnceUploadsAndDownloads(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	fc.SetAutoConvert(true)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(fc.URL()), testsupport.WithChunkSizeMiB(1))
	cfg.Folders[0].AdditionalArgs = "--preset vr"
	folder := testsupport.FolderPath(cfg)

	testsupport.WriteFile(t, filepath.Join(folder, "a.mp4"), 5*mib/2)
	testsupport.WriteFile(t, filepath.Join(folder, "b.mkv"), 1000)
	testsupport.WriteFile(t, filepath.Join(folder, "notes.txt"), 10)

	report := openSyncer(t, cfg).RunOnce(context.Background())
	if report.CycleID == "" {
		t.Fatal("expected a cycle id")
	}
	summary := report.Summary()
	if summary.Uploaded != 2 || summary.Downloaded != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v: %+v", summary, report.Files)
	}
	if report.PollErr != nil || report.SaveErr != nil {
		t.Fatalf("unexpected errors: poll=%v save=%v", report.PollErr, report.SaveErr)
	}

	var chunksForA int
	for _, req := range fc.Uploads() {
		if req.Filename == "a.mp4" {
			chunksForA++
			if req.TotalChunks != 3 || req.AdditionalArgs != "--preset vr" {
				t.Fatalf("unexpected chunk request: %+v", req)
			}
		}
	}
	if chunksForA != 3 {
		t.Fatalf("expected 3 chunks for a.mp4, got %d", chunksForA)
	}

	got := testsupport.ReadFile(t, filepath.Join(folder, "VR", "a.mp4"))
	if !bytes.Equal(got, testsupport.Pattern(5*mib/2)) {
		t.Fatal("downloaded a.mp4 differs from source")
	}

	reloaded, err := history.NewJSONStore(cfg.History.Path).Load(context.Background())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if counts := reloaded.Counts(); counts.Downloaded != 2 || counts.Total != 2 {
		t.Fatalf("unexpected persisted counts: %+v", counts)
	}
	record, dl, ok := reloaded.Lookup(filepath.Join(folder, "a.mp4"))
	if !ok || dl == nil || record.SessionToken == "" || record.RemoteBaseURL != fc.URL() || record.AdditionalArgs != "--preset vr" {
		t.Fatalf("unexpected record: %+v %+v", record, dl)
	}
}

func TestRunOnceIsIdempotentAcrossCycles(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	fc.SetAutoConvert(true)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(fc.URL()))
	testsupport.WriteFile(t, filepath.Join(testsupport.FolderPath(cfg), "a.mp4"), 4096)

	s := openSyncer(t, cfg)
	s.RunOnce(context.Background())
	uploadsAfterFirst := len(fc.Uploads())
	first := testsupport.ReadFile(t, cfg.History.Path)

	report := s.RunOnce(context.Background())
	second := testsupport.ReadFile(t, cfg.History.Path)

	if len(fc.Uploads()) != uploadsAfterFirst {
		t.Fatal("recorded files must not be uploaded again")
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("history changed between no-change cycles:\n%s\n---\n%s", first, second)
	}
	if len(report.Files) != 0 || len(report.Unmatched) != 1 {
		t.Fatalf("second cycle should have no file outcomes: %+v", report)
	}
}

func TestRunOnceDownloadsInLaterCycle(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(fc.URL()))
	folder := testsupport.FolderPath(cfg)
	testsupport.WriteFile(t, filepath.Join(folder, "a.mp4"), 2048)

	s := openSyncer(t, cfg)
	first := s.RunOnce(context.Background())
	if first.Summary().Uploaded != 1 || first.Summary().Downloaded != 0 {
		t.Fatalf("unexpected first cycle: %+v", first.Files)
	}
	if s.History().Counts().Uploaded != 1 {
		t.Fatal("record should be pending after upload")
	}

	fc.AddFile("a.mp4", []byte("converted"))
	second := s.RunOnce(context.Background())
	if second.Summary().Downloaded != 1 || second.Summary().Uploaded != 0 {
		t.Fatalf("unexpected second cycle: %+v", second.Files)
	}
	if s.History().Counts().Downloaded != 1 {
		t.Fatal("record should be downloaded")
	}
}

func TestRunOnceNeverDownloadsOverSource(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(fc.URL()))
	cfg.Download.OutputSubdir = ""
	source := filepath.Join(testsupport.FolderPath(cfg), "a.mp4")
	testsupport.WriteFile(t, source, 1000)
	original := testsupport.ReadFile(t, source)

	s := openSyncer(t, cfg)
	if first := s.RunOnce(context.Background()); first.Summary().Uploaded != 1 {
		t.Fatalf("unexpected first cycle: %+v", first.Files)
	}

	fc.AddFile("a.mp4", testsupport.Pattern(3000))
	second := s.RunOnce(context.Background())
	if second.Summary().Failed != 1 || second.Summary().Downloaded != 0 {
		t.Fatalf("unexpected second cycle: %+v", second.Files)
	}
	if !errors.Is(second.Files[0].Err, download.ErrOutputIsSource) {
		t.Fatalf("expected output-is-source error, got %v", second.Files[0].Err)
	}
	if len(fc.Downloads()) != 0 {
		t.Fatalf("no download request expected, got %+v", fc.Downloads())
	}
	if !bytes.Equal(testsupport.ReadFile(t, source), original) {
		t.Fatal("source video was modified")
	}
	if s.History().Counts().Uploaded != 1 {
		t.Fatal("record should stay pending")
	}
}

func TestRunOnceContinuesAfterUploadFailure(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(fc.URL()))
	cfg.Upload.MaxRetries = 1
	folder := testsupport.FolderPath(cfg)
	testsupport.WriteFile(t, filepath.Join(folder, "a.mp4"), 100)
	testsupport.WriteFile(t, filepath.Join(folder, "b.mp4"), 100)

	fc.QueueUploadResponse(http.StatusInternalServerError, "disk full")
	fc.QueueUploadResponse(http.StatusInternalServerError, "disk full")

	report := openSyncer(t, cfg).RunOnce(context.Background())
	if len(report.Files) != 2 {
		t.Fatalf("expected two outcomes, got %+v", report.Files)
	}
	if report.Files[0].Status != syncer.StatusFailed || !errors.Is(report.Files[0].Err, upload.ErrChunkRetriesExhausted) {
		t.Fatalf("a.mp4 should fail: %+v", report.Files[0])
	}
	if report.Files[1].Status != syncer.StatusUploaded {
		t.Fatalf("b.mp4 should upload: %+v", report.Files[1])
	}

	reloaded, err := history.NewJSONStore(cfg.History.Path).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, _, ok := reloaded.Lookup(filepath.Join(folder, "a.mp4")); ok {
		t.Fatal("failed upload must not be recorded")
	}
	if _, _, ok := reloaded.Lookup(filepath.Join(folder, "b.mp4")); !ok {
		t.Fatal("successful upload must be recorded")
	}
}

func TestRunOnceSkipsEmptyFiles(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(fc.URL()))
	testsupport.WriteFile(t, filepath.Join(testsupport.FolderPath(cfg), "empty.mp4"), 0)

	s := openSyncer(t, cfg)
	report := s.RunOnce(context.Background())
	if len(report.Files) != 1 || report.Files[0].Status != syncer.StatusSkipped {
		t.Fatalf("unexpected outcomes: %+v", report.Files)
	}
	if len(fc.Uploads()) != 0 || s.History().Counts().Total != 0 {
		t.Fatal("empty files must not be sent or recorded")
	}
}

func TestRunOnceReportsPollFailure(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	fc.QueueStatusResponse(http.StatusBadGateway, "")
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(fc.URL()))
	testsupport.WriteFile(t, filepath.Join(testsupport.FolderPath(cfg), "a.mp4"), 10)

	report := openSyncer(t, cfg).RunOnce(context.Background())
	if report.PollErr == nil {
		t.Fatal("expected poll error")
	}
	if report.Summary().Uploaded != 1 {
		t.Fatal("uploads should complete before the failed poll")
	}
}

func TestRunOnceStopsWhenCanceled(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(fc.URL()))
	testsupport.WriteFile(t, filepath.Join(testsupport.FolderPath(cfg), "a.mp4"), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := openSyncer(t, cfg).RunOnce(ctx)
	if !report.Canceled || len(report.Files) != 0 {
		t.Fatalf("canceled cycle should do no work: %+v", report)
	}
	if len(fc.Uploads()) != 0 || fc.StatusRequests() != 0 {
		t.Fatal("no requests expected after cancellation")
	}
	if _, err := os.Stat(cfg.History.Path); err != nil {
		t.Fatalf("history should still be saved: %v", err)
	}
}

func TestRunOnceWithSQLiteBackend(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	fc.SetAutoConvert(true)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(fc.URL()), testsupport.WithBackend(config.BackendSQLite))
	testsupport.WriteFile(t, filepath.Join(testsupport.FolderPath(cfg), "a.mp4"), 10)

	s := openSyncer(t, cfg)
	if report := s.RunOnce(context.Background()); report.Summary().Downloaded != 1 {
		t.Fatalf("unexpected report: %+v", report.Files)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err := history.OpenSQLite(history.SQLitePath(cfg.History.Path))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	h, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if counts := h.Counts(); counts.Downloaded != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

type nopStore struct{}

func (nopStore) Load(context.Context) (*history.History, error) { return history.New(), nil }
func (nopStore) Save(context.Context, *history.History) error    { return nil }
func (nopStore) Close() error                                    { return nil }

type emptyScanner struct{}

func (emptyScanner) Scan(context.Context, scanner.Processed) []scanner.Candidate { return nil }

type emptyPoller struct{}

func (emptyPoller) Poll(context.Context, *history.History) (poller.Result, error) {
	return poller.Result{}, nil
}

func TestNewRequiresComponents(t *testing.T) {
	if _, err := syncer.New("", syncer.Components{Store: nopStore{}}, nil, nil); err == nil {
		t.Fatal("expected error for missing components")
	}
	s, err := syncer.New("http://remote", syncer.Components{
		Scanner:  emptyScanner{},
		Uploader: upload.New(nil, upload.Settings{}, nil),
		Poller:   emptyPoller{},
		Store:    nopStore{},
	}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if report := s.RunOnce(context.Background()); len(report.Files) != 0 || report.Canceled {
		t.Fatalf("unexpected report: %+v", report)
	}
}

type recordingNotifier struct {
	downloads []string
	cycles    []notifications.CycleSummary
	errors    []string
}

func (r *recordingNotifier) NotifyDownloaded(_ context.Context, filename, _ string) error {
	r.downloads = append(r.downloads, filename)
	return nil
}

func (r *recordingNotifier) NotifyCycleCompleted(_ context.Context, summary notifications.CycleSummary) error {
	r.cycles = append(r.cycles, summary)
	return nil
}

func (r *recordingNotifier) NotifyError(_ context.Context, _ error, label string) error {
	r.errors = append(r.errors, label)
	return nil
}

func (r *recordingNotifier) TestNotification(context.Context) error { return nil }

func TestRunOnceNotifiesOnActivity(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	fc.SetAutoConvert(true)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(fc.URL()))
	testsupport.WriteFile(t, filepath.Join(testsupport.FolderPath(cfg), "a.mp4"), 10)

	notifier := &recordingNotifier{}
	s, err := syncer.Open(context.Background(), cfg, logging.NewNop(), syncer.WithNotifier(notifier))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.RunOnce(context.Background())
	if len(notifier.downloads) != 1 || notifier.downloads[0] != "a.mp4" {
		t.Fatalf("unexpected download notices: %v", notifier.downloads)
	}
	if len(notifier.cycles) != 1 || notifier.cycles[0].Uploaded != 1 || notifier.cycles[0].Downloaded != 1 {
		t.Fatalf("unexpected cycle notices: %+v", notifier.cycles)
	}

	s.RunOnce(context.Background())
	if len(notifier.cycles) != 1 {
		t.Fatal("idle cycles must not notify")
	}
}

func TestRunOnceNotifiesPollFailureOnce(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRemote(fc.URL()))

	notifier := &recordingNotifier{}
	s, err := syncer.Open(context.Background(), cfg, logging.NewNop(), syncer.WithNotifier(notifier))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	fc.QueueStatusResponse(http.StatusServiceUnavailable, "down")
	fc.QueueStatusResponse(http.StatusServiceUnavailable, "down")
	s.RunOnce(context.Background())
	s.RunOnce(context.Background())
	if len(notifier.errors) != 1 {
		t.Fatalf("expected one error notice while failing, got %v", notifier.errors)
	}

	s.RunOnce(context.Background())
	fc.QueueStatusResponse(http.StatusServiceUnavailable, "down")
	s.RunOnce(context.Background())
	if len(notifier.errors) != 2 {
		t.Fatalf("expected a new notice after recovery, got %v", notifier.errors)
	}
}
