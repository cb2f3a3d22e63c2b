package poller_test

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidrelay/internal/download"
	"vidrelay/internal/history"
	"vidrelay/internal/logging"
	"vidrelay/internal/poller"
	"vidrelay/internal/services"
	"vidrelay/internal/services/converter"
	"vidrelay/internal/testsupport"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type countingSaver struct {
	saves int
	err   error
}

func (s *countingSaver) Save(context.Context, *history.History) error {
	s.saves++
	return s.err
}

func newPoller(t *testing.T, fc *testsupport.FakeConverter, saver poller.Saver) *poller.Poller {
	t.Helper()
	client, err := converter.NewClient(converter.Config{BaseURL: fc.URL()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	dl := download.New(client, download.Settings{OutputSubdir: "VR"}, logging.NewNop())
	return poller.New(client, dl, saver, logging.NewNop(), poller.WithClock(func() time.Time { return fixedNow }))
}

func uploaded(h *history.History, path, target string) {
	h.RecordUploaded(path, history.UploadRecord{
		UploadedAt:   history.NewTimestamp(fixedNow.Add(-time.Hour)),
		TargetFolder: target,
		Fingerprint:  "fp-" + filepath.Base(path),
	})
}

func TestPollDownloadsMatchedFile(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	fc.AddFile("a.mp4", []byte("converted"))
	target := t.TempDir()
	source := filepath.Join(target, "a.mp4")

	h := history.New()
	uploaded(h, source, target)
	saver := &countingSaver{}

	result, err := newPoller(t, fc, saver).Poll(context.Background(), h)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if result.Converted != 1 || result.Downloaded() != 1 || len(result.Unmatched) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	record, dl, ok := h.Lookup(source)
	if !ok || record.Status != history.StatusDownloaded || record.DownloadedAt == nil {
		t.Fatalf("record not marked downloaded: %+v", record)
	}
	if dl == nil || dl.OriginalFilename != "a.mp4" || dl.TargetFolder != target || !dl.DownloadedAt.Equal(fixedNow) {
		t.Fatalf("unexpected download record: %+v", dl)
	}
	if saver.saves != 1 {
		t.Fatalf("expected one save, got %d", saver.saves)
	}
	if got := string(testsupport.ReadFile(t, filepath.Join(target, "VR", "a.mp4"))); got != "converted" {
		t.Fatalf("downloaded content = %q", got)
	}
}

func TestPollLogsUnmatchedNames(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	fc.AddFile("other.mp4", []byte("x"))

	h := history.New()
	uploaded(h, "/videos/a.mp4", "/videos")

	result, err := newPoller(t, fc, nil).Poll(context.Background(), h)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(result.Unmatched) != 1 || result.Unmatched[0] != "other.mp4" || len(result.Matches) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(fc.Downloads()) != 0 {
		t.Fatal("unmatched names must not be downloaded")
	}
	if h.Counts().Uploaded != 1 {
		t.Fatal("pending record should be untouched")
	}
}

func TestPollReportsEachUnmatchedNameOnce(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	fc.AddFile("other.mp4", []byte("x"))

	logPath := filepath.Join(t.TempDir(), "poller.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatal(err)
	}
	client, err := converter.NewClient(converter.Config{BaseURL: fc.URL()})
	if err != nil {
		t.Fatal(err)
	}
	dl := download.New(client, download.Settings{OutputSubdir: "VR"}, logging.NewNop())
	p := poller.New(client, dl, nil, logger)

	h := history.New()
	for range 2 {
		if _, err := p.Poll(context.Background(), h); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}

	log := string(testsupport.ReadFile(t, logPath))
	if got := strings.Count(log, "event_type=status_unmatched"); got != 1 {
		t.Fatalf("expected one unmatched line at info, got %d:\n%s", got, log)
	}
	if !strings.Contains(log, "filename=other.mp4") {
		t.Fatalf("expected filename in log:\n%s", log)
	}
}

func TestPollSkipsDownloadedRecords(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	fc.AddFile("a.mp4", []byte("x"))

	h := history.New()
	uploaded(h, "/videos/a.mp4", "/videos")
	h.MarkDownloaded("/videos/a.mp4", fixedNow)

	result, err := newPoller(t, fc, nil).Poll(context.Background(), h)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(result.Matches) != 0 || len(fc.Downloads()) != 0 {
		t.Fatalf("downloaded records must not be fetched again: %+v", result)
	}
}

func TestPollMatchesAcrossUnicodeNormalization(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	decomposed := "Cafe\u0301.mp4"
	fc.AddFile(decomposed, []byte("x"))
	target := t.TempDir()
	source := filepath.Join(target, "Caf\u00e9.mp4")

	h := history.New()
	uploaded(h, source, target)

	result, err := newPoller(t, fc, nil).Poll(context.Background(), h)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if result.Downloaded() != 1 || result.Matches[0].SourcePath != source {
		t.Fatalf("expected NFC match, got %+v", result)
	}
}

func TestPollChoosesFirstSortedCandidate(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	fc.AddFile("a.mp4", []byte("x"))
	base := t.TempDir()
	first := filepath.Join(base, "one", "a.mp4")
	second := filepath.Join(base, "two", "a.mp4")

	h := history.New()
	uploaded(h, second, filepath.Dir(second))
	uploaded(h, first, filepath.Dir(first))

	result, err := newPoller(t, fc, nil).Poll(context.Background(), h)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].SourcePath != first || result.Matches[0].Candidates != 2 {
		t.Fatalf("unexpected matches: %+v", result.Matches)
	}
	if record, _, _ := h.Lookup(second); record.Status != history.StatusUploaded {
		t.Fatal("second candidate should stay pending")
	}
}

func TestPollAbandonsOnStatusFailure(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		marker error
	}{
		{name: "server error", status: http.StatusInternalServerError, body: "boom", marker: services.ErrTransient},
		{name: "malformed", status: http.StatusOK, body: `["a.mp4"]`, marker: services.ErrProtocol},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fc := testsupport.NewFakeConverter(t)
			fc.AddFile("a.mp4", []byte("x"))
			fc.QueueStatusResponse(tc.status, tc.body)

			h := history.New()
			uploaded(h, "/videos/a.mp4", "/videos")

			_, err := newPoller(t, fc, nil).Poll(context.Background(), h)
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
			if len(fc.Downloads()) != 0 {
				t.Fatal("no download should follow a failed poll")
			}
		})
	}
}

func TestPollKeepsRecordPendingOnDownloadFailure(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	fc.SetConvertedEntries("a.mp4", 42, "")

	h := history.New()
	uploaded(h, "/videos/a.mp4", t.TempDir())
	saver := &countingSaver{}

	result, err := newPoller(t, fc, saver).Poll(context.Background(), h)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if result.Converted != 1 || len(result.Matches) != 1 || result.Matches[0].Err == nil {
		t.Fatalf("expected one failed match, got %+v", result)
	}
	if !errors.Is(result.Matches[0].Err, services.ErrPermanent) {
		t.Fatalf("404 should be permanent: %v", result.Matches[0].Err)
	}
	if h.Counts().Uploaded != 1 || saver.saves != 0 {
		t.Fatalf("record should remain pending and unsaved: %+v saves=%d", h.Counts(), saver.saves)
	}
}

func TestPollSaveFailureDoesNotUndoDownload(t *testing.T) {
	fc := testsupport.NewFakeConverter(t)
	fc.AddFile("a.mp4", []byte("x"))
	target := t.TempDir()

	h := history.New()
	uploaded(h, filepath.Join(target, "a.mp4"), target)
	saver := &countingSaver{err: errors.New("disk full")}

	result, err := newPoller(t, fc, saver).Poll(context.Background(), h)
	if err != nil || result.Downloaded() != 1 {
		t.Fatalf("save failure should only be logged: err=%v result=%+v", err, result)
	}
	if h.Counts().Downloaded != 1 {
		t.Fatal("in-memory history should still record the download")
	}
}

func TestMatchPending(t *testing.T) {
	pending := []history.Entry{
		{Path: "/a/movie.mp4"},
		{Path: "/b/Movie.mp4"},
		{Path: "/c/movie.mp4"},
	}
	got := poller.MatchPending(pending, "movie.mp4")
	if len(got) != 2 || got[0].Path != "/a/movie.mp4" || got[1].Path != "/c/movie.mp4" {
		t.Fatalf("unexpected matches: %+v", got)
	}
}
