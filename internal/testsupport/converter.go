package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// DefaultMergeMessage matches the default remote.merge_message.
const DefaultMergeMessage = "上传并合并完成，已加入转换队列"

// UploadRequest captures one chunk POST received by FakeConverter.
type UploadRequest struct {
	Filename       string
	ChunkIndex     int
	TotalChunks    int
	AdditionalArgs string
	SessionID      string
	HasSessionID   bool
	Size           int
}

// DownloadRequest captures one download GET received by FakeConverter.
type DownloadRequest struct {
	Filename string
	Range    string
}

type scripted struct {
	status   int
	body     string
	truncate int
	partial  bool
}

// FakeConverter is an in-process conversion service. By default it accepts
// every chunk, issues a session token on the first chunk, confirms the merge
// on the last chunk, and serves registered downloads honouring Range headers.
type FakeConverter struct {
	Server *httptest.Server

	mu             sync.Mutex
	mergeMessage   string
	supportsRange  bool
	autoConvert    bool
	uploadScript   []scripted
	statusScript   []scripted
	downloadScript []scripted
	uploads        []UploadRequest
	downloads      []DownloadRequest
	statusRequests int
	assembled      map[string][]byte
	files          map[string][]byte
	converted      []json.RawMessage
	sessionsIssued int
}

// NewFakeConverter starts a fake service and registers its shutdown.
func NewFakeConverter(t testing.TB) *FakeConverter {
	t.Helper()
	fc := &FakeConverter{
		mergeMessage:  DefaultMergeMessage,
		supportsRange: true,
		assembled:     make(map[string][]byte),
		files:         make(map[string][]byte),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", fc.handleUpload)
	mux.HandleFunc("/api/status", fc.handleStatus)
	mux.HandleFunc("/download/", fc.handleDownload)
	fc.Server = httptest.NewServer(mux)
	t.Cleanup(fc.Server.Close)
	return fc
}

// URL returns the service base URL.
func (fc *FakeConverter) URL() string { return fc.Server.URL }

// SetRangeSupport toggles whether Range requests receive 206 responses.
func (fc *FakeConverter) SetRangeSupport(enabled bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.supportsRange = enabled
}

// SetAutoConvert makes every merged upload immediately downloadable and listed
// as converted, with the uploaded bytes as the converted content.
func (fc *FakeConverter) SetAutoConvert(enabled bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.autoConvert = enabled
}

// SetMergeMessage overrides the final-success message.
func (fc *FakeConverter) SetMergeMessage(message string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.mergeMessage = message
}

// AddFile registers a downloadable file listed in converted_files.
func (fc *FakeConverter) AddFile(name string, data []byte) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.files[name] = append([]byte(nil), data...)
	fc.appendConvertedLocked(name)
}

// SetConvertedEntries replaces converted_files with arbitrary JSON values.
func (fc *FakeConverter) SetConvertedEntries(entries ...any) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.converted = nil
	for _, entry := range entries {
		raw, _ := json.Marshal(entry)
		fc.converted = append(fc.converted, raw)
	}
}

// QueueUploadResponse scripts the next upload response ahead of default behaviour.
func (fc *FakeConverter) QueueUploadResponse(status int, body string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.uploadScript = append(fc.uploadScript, scripted{status: status, body: body})
}

// QueueStatusResponse scripts the next status response.
func (fc *FakeConverter) QueueStatusResponse(status int, body string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.statusScript = append(fc.statusScript, scripted{status: status, body: body})
}

// QueueDownloadResponse scripts the next download response.
func (fc *FakeConverter) QueueDownloadResponse(status int, body string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.downloadScript = append(fc.downloadScript, scripted{status: status, body: body})
}

// QueueDownloadTruncated makes the next download send only n bytes of the
// requested range before dropping the connection.
func (fc *FakeConverter) QueueDownloadTruncated(n int) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.downloadScript = append(fc.downloadScript, scripted{truncate: n})
}

// QueueDownloadPartial makes the next download answer 206 with the whole file,
// whether or not a range was requested.
func (fc *FakeConverter) QueueDownloadPartial() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.downloadScript = append(fc.downloadScript, scripted{partial: true})
}

// Uploads returns captured chunk requests.
func (fc *FakeConverter) Uploads() []UploadRequest {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]UploadRequest(nil), fc.uploads...)
}

// Downloads returns captured download requests.
func (fc *FakeConverter) Downloads() []DownloadRequest {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]DownloadRequest(nil), fc.downloads...)
}

// StatusRequests returns the number of status polls received.
func (fc *FakeConverter) StatusRequests() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.statusRequests
}

// Assembled returns the bytes received so far for filename.
func (fc *FakeConverter) Assembled(filename string) []byte {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]byte(nil), fc.assembled[filename]...)
}

func (fc *FakeConverter) appendConvertedLocked(name string) {
	raw, _ := json.Marshal(name)
	for _, existing := range fc.converted {
		if string(existing) == string(raw) {
			return
		}
	}
	fc.converted = append(fc.converted, raw)
}

func popScript(queue *[]scripted) (scripted, bool) {
	if len(*queue) == 0 {
		return scripted{}, false
	}
	next := (*queue)[0]
	*queue = (*queue)[1:]
	return next, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (fc *FakeConverter) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("chunk")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, _ := io.ReadAll(file)
	_ = file.Close()

	req := UploadRequest{
		Filename:       r.FormValue("filename"),
		AdditionalArgs: r.FormValue("additional_args"),
		Size:           len(data),
	}
	req.ChunkIndex, _ = strconv.Atoi(r.FormValue("chunk_index"))
	req.TotalChunks, _ = strconv.Atoi(r.FormValue("total_chunks"))
	if values, ok := r.MultipartForm.Value["session_id"]; ok && len(values) > 0 {
		req.SessionID = values[0]
		req.HasSessionID = true
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.uploads = append(fc.uploads, req)

	if next, ok := popScript(&fc.uploadScript); ok {
		w.WriteHeader(next.status)
		_, _ = io.WriteString(w, next.body)
		return
	}

	if req.ChunkIndex == 0 {
		fc.assembled[req.Filename] = nil
	}
	fc.assembled[req.Filename] = append(fc.assembled[req.Filename], data...)

	payload := map[string]any{}
	if !req.HasSessionID {
		fc.sessionsIssued++
		payload["session_id"] = fmt.Sprintf("session-%d", fc.sessionsIssued)
	}
	if req.ChunkIndex == req.TotalChunks-1 {
		payload["message"] = fc.mergeMessage
		if fc.autoConvert {
			fc.files[req.Filename] = append([]byte(nil), fc.assembled[req.Filename]...)
			fc.appendConvertedLocked(req.Filename)
		}
	} else {
		payload["message"] = fmt.Sprintf("块 %d/%d 上传成功", req.ChunkIndex+1, req.TotalChunks)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (fc *FakeConverter) handleStatus(w http.ResponseWriter, _ *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.statusRequests++
	if next, ok := popScript(&fc.statusScript); ok {
		w.WriteHeader(next.status)
		_, _ = io.WriteString(w, next.body)
		return
	}
	entries := fc.converted
	if entries == nil {
		entries = []json.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"converted_files": entries})
}

func (fc *FakeConverter) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/download/")
	rangeHeader := r.Header.Get("Range")

	fc.mu.Lock()
	fc.downloads = append(fc.downloads, DownloadRequest{Filename: name, Range: rangeHeader})
	next, scriptedHit := popScript(&fc.downloadScript)
	data, found := fc.files[name]
	supportsRange := fc.supportsRange
	fc.mu.Unlock()

	if scriptedHit && next.truncate == 0 && !next.partial {
		w.WriteHeader(next.status)
		_, _ = io.WriteString(w, next.body)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}

	status := http.StatusOK
	body := data
	switch {
	case scriptedHit && next.partial:
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(data)-1, len(data)))
	case supportsRange && rangeHeader != "":
		start, ok := parseRangeStart(rangeHeader)
		if !ok || start >= int64(len(data)) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		body = data[start:]
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(status)
	if scriptedHit && next.truncate > 0 && next.truncate < len(body) {
		_, _ = w.Write(body[:next.truncate])
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		panic(http.ErrAbortHandler)
	}
	_, _ = w.Write(body)
}

func parseRangeStart(header string) (int64, bool) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, false
	}
	startText, _, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(startText, 10, 64)
	if err != nil || start < 0 {
		return 0, false
	}
	return start, true
}
