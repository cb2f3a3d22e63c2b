package syncer

import "time"

// Action names the transfer step a FileOutcome describes.
type Action string

const (
	ActionUpload   Action = "upload"
	ActionDownload Action = "download"
)

// OutcomeStatus is the result of one file step.
type OutcomeStatus string

const (
	StatusUploaded   OutcomeStatus = "uploaded"
	StatusDownloaded OutcomeStatus = "downloaded"
	StatusSkipped    OutcomeStatus = "skipped"
	StatusFailed     OutcomeStatus = "failed"
)

// FileOutcome records what happened to one file during a cycle. Err may be
// set on a successful step when the following history save failed.
type FileOutcome struct {
	SourcePath string
	Filename   string
	Action     Action
	Status     OutcomeStatus
	Output     string
	Detail     string
	Err        error
}

// Report describes one cycle.
type Report struct {
	CycleID    string
	StartedAt  time.Time
	FinishedAt time.Time
	Files      []FileOutcome
	Unmatched  []string
	PollErr    error
	SaveErr    error
	Canceled   bool
}

// Summary tallies outcomes by status.
type Summary struct {
	Uploaded   int
	Downloaded int
	Skipped    int
	Failed     int
}

// Summary counts the report's file outcomes.
func (r Report) Summary() Summary {
	var s Summary
	for _, file := range r.Files {
		switch file.Status {
		case StatusUploaded:
			s.Uploaded++
		case StatusDownloaded:
			s.Downloaded++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
