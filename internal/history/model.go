package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an uploaded file.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusDownloaded Status = "downloaded"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusUploaded || s == StatusDownloaded
}

// Timestamp is a wall-clock instant serialized as RFC 3339. Naive ISO-8601
// values without an offset are accepted on decode and interpreted as local time.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t, dropping the monotonic clock reading.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Round(0)}
}

var timestampLayouts = []struct {
	layout string
	naive  bool
}{
	{layout: time.RFC3339Nano},
	{layout: "2006-01-02T15:04:05.999999999", naive: true},
	{layout: "2006-01-02 15:04:05.999999999", naive: true},
}

// ParseTimestamp accepts RFC 3339 or a naive ISO-8601 timestamp.
func ParseTimestamp(value string) (Timestamp, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Timestamp{}, nil
	}
	for _, candidate := range timestampLayouts {
		var (
			parsed time.Time
			err    error
		)
		if candidate.naive {
			parsed, err = time.ParseInLocation(candidate.layout, value, time.Local)
		} else {
			parsed, err = time.Parse(candidate.layout, value)
		}
		if err == nil {
			return Timestamp{Time: parsed}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// String formats the timestamp as RFC 3339 with nanoseconds, or "" when zero.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UploadRecord describes a source file that was fully uploaded.
type UploadRecord struct {
	UploadedAt     Timestamp  `json:"uploaded_at"`
	RemoteBaseURL  string     `json:"url"`
	AdditionalArgs string     `json:"additional_args"`
	TargetFolder   string     `json:"target_folder"`
	Fingerprint    string     `json:"file_hash"`
	Status         Status     `json:"status"`
	SessionToken   string     `json:"session_id,omitempty"`
	DownloadedAt   *Timestamp `json:"downloaded_at,omitempty"`
}

// DownloadRecord mirrors an UploadRecord once its converted output is on disk.
type DownloadRecord struct {
	DownloadedAt     Timestamp `json:"downloaded_at"`
	TargetFolder     string    `json:"target_folder"`
	OriginalFilename string    `json:"original_filename"`
}

// Entry pairs an upload record with its source path.
type Entry struct {
	Path   string
	Record UploadRecord
}

// Counts summarizes a History.
type Counts struct {
	Uploaded   int
	Downloaded int
	Total      int
}

// document is the on-disk JSON layout.
type document struct {
	UploadedFiles   map[string]UploadRecord   `json:"uploaded_files"`
	DownloadedFiles map[string]DownloadRecord `json:"downloaded_files"`
}

func (r *UploadRecord) normalize(path string) error {
	if r.Status == "" {
		if r.DownloadedAt != nil && !r.DownloadedAt.IsZero() {
			r.Status = StatusDownloaded
		} else {
			r.Status = StatusUploaded
		}
	}
	if !r.Status.Valid() {
		return fmt.Errorf("record %q: unknown status %q", path, r.Status)
	}
	if r.DownloadedAt != nil && r.DownloadedAt.IsZero() {
		r.DownloadedAt = nil
	}
	return nil
}
