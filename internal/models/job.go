package models

import (
	"time"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
type JobStatus string

const (
	StatusQueued     JobStatus = "QUEUED"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Job represents one OCR submission persisted in Postgres.
type Job struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename,omitempty"`
	Status       JobStatus `json:"status"`
	RetryCount   int       `json:"retry_count"`
	PagesPerPart int       `json:"pages_per_part"`
	ErrorLog     []string  `json:"error_log"`
	FinalText    *string   `json:"final_text,omitempty"`
	TotalTokens  int       `json:"total_tokens"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AppendError records a failure note in the append-only error log.
func (j *Job) AppendError(note string) {
	j.ErrorLog = append(j.ErrorLog, note)
}

// Clone returns a deep copy, so callers can mutate without aliasing the error log.
func (j Job) Clone() Job {
	out := j
	if j.ErrorLog != nil {
		out.ErrorLog = append([]string(nil), j.ErrorLog...)
	}
	if j.FinalText != nil {
		text := *j.FinalText
		out.FinalText = &text
	}
	return out
}
