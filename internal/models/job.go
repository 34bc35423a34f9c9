package models

import (
	"time"
)

// JobStatus is the lifecycle state of a submitted unit of work.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// WebhookSettings is the caller-supplied notification target for a job.
type WebhookSettings struct {
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	IncludeResults bool              `json:"includeResults,omitempty"`
}

// Job records lifecycle state and aggregate progress for one submission.
type Job struct {
	ID             string            `json:"id"`
	Status         JobStatus         `json:"status"`
	TotalCount     int               `json:"totalCount"`
	CompletedCount int               `json:"completedCount"`
	FailedCount    int               `json:"failedCount"`
	Error          string            `json:"error,omitempty"`
	Files          []SourceFile      `json:"files"`
	Analyze        AnalyzeConfig     `json:"analyze,omitempty"`
	Webhook        *WebhookSettings  `json:"webhook,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	SubmittedAt    time.Time         `json:"submittedAt"`
	StartedAt      time.Time         `json:"startedAt,omitempty"`
	CompletedAt    time.Time         `json:"completedAt,omitempty"`
}

// Progress returns completed+failed over total as a percentage.
func (j *Job) Progress() float64 {
	if j.TotalCount == 0 {
		return 0
	}
	return float64(j.CompletedCount+j.FailedCount) / float64(j.TotalCount) * 100
}
