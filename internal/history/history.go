package history

import (
	"sort"
	"time"
)

// History is the in-memory view of all transfer records. It is not safe for
// concurrent use; a single cycle owns it at a time.
type History struct {
	uploaded   map[string]UploadRecord
	downloaded map[string]DownloadRecord
}

// New returns an empty History.
func New() *History {
	return &History{
		uploaded:   make(map[string]UploadRecord),
		downloaded: make(map[string]DownloadRecord),
	}
}

func fromDocument(doc document) (*History, error) {
	h := New()
	for path, record := range doc.UploadedFiles {
		if err := record.normalize(path); err != nil {
			return nil, err
		}
		h.uploaded[path] = record
	}
	for path, record := range doc.DownloadedFiles {
		h.downloaded[path] = record
	}
	return h, nil
}

func (h *History) document() document {
	doc := document{
		UploadedFiles:   make(map[string]UploadRecord, len(h.uploaded)),
		DownloadedFiles: make(map[string]DownloadRecord, len(h.downloaded)),
	}
	for path, record := range h.uploaded {
		doc.UploadedFiles[path] = record
	}
	for path, record := range h.downloaded {
		doc.DownloadedFiles[path] = record
	}
	return doc
}

// IsProcessed reports whether any upload record carries fingerprint.
func (h *History) IsProcessed(fingerprint string) bool {
	if fingerprint == "" {
		return false
	}
	for _, record := range h.uploaded {
		if record.Fingerprint == fingerprint {
			return true
		}
	}
	return false
}

// RecordUploaded stores record for path. An existing record with the same
// fingerprint is left untouched so a downloaded file never regresses to
// uploaded. A record with a different fingerprint describes an older state of
// the file and is replaced together with its download record.
func (h *History) RecordUploaded(path string, record UploadRecord) {
	if existing, ok := h.uploaded[path]; ok && existing.Fingerprint == record.Fingerprint {
		return
	}
	record.Status = StatusUploaded
	record.DownloadedAt = nil
	h.uploaded[path] = record
	delete(h.downloaded, path)
}

// RecordDownloaded stores the download record for path. The first record wins.
func (h *History) RecordDownloaded(path string, record DownloadRecord) {
	if _, ok := h.downloaded[path]; ok {
		return
	}
	h.downloaded[path] = record
}

// MarkDownloaded transitions the upload record for path to downloaded. It
// reports false when no upload record exists or it is already downloaded.
func (h *History) MarkDownloaded(path string, at time.Time) bool {
	record, ok := h.uploaded[path]
	if !ok || record.Status == StatusDownloaded {
		return false
	}
	stamp := NewTimestamp(at)
	record.Status = StatusDownloaded
	record.DownloadedAt = &stamp
	h.uploaded[path] = record
	return true
}

// Lookup returns the records stored for path.
func (h *History) Lookup(path string) (UploadRecord, *DownloadRecord, bool) {
	record, ok := h.uploaded[path]
	if !ok {
		return UploadRecord{}, nil, false
	}
	if dl, found := h.downloaded[path]; found {
		return record, &dl, true
	}
	return record, nil, true
}

// Forget removes every record for path so the file is processed again.
func (h *History) Forget(path string) bool {
	_, up := h.uploaded[path]
	_, down := h.downloaded[path]
	delete(h.uploaded, path)
	delete(h.downloaded, path)
	return up || down
}

// UploadRecords returns all upload records sorted by source path.
func (h *History) UploadRecords() []Entry {
	entries := make([]Entry, 0, len(h.uploaded))
	for path, record := range h.uploaded {
		entries = append(entries, Entry{Path: path, Record: record})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// Pending returns upload records still awaiting download, sorted by path.
func (h *History) Pending() []Entry {
	all := h.UploadRecords()
	pending := all[:0]
	for _, entry := range all {
		if entry.Record.Status == StatusUploaded {
			pending = append(pending, entry)
		}
	}
	return pending
}

// Counts tallies records by status.
func (h *History) Counts() Counts {
	var counts Counts
	for _, record := range h.uploaded {
		switch record.Status {
		case StatusDownloaded:
			counts.Downloaded++
		default:
			counts.Uploaded++
		}
	}
	counts.Total = counts.Uploaded + counts.Downloaded
	return counts
}
