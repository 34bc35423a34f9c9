package models

import (
	"encoding/json"
	"time"
)

// SourceFile describes one uploaded file entering the pipeline.
type SourceFile struct {
	FileID   string `json:"fileId"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// BatchItem is a converted file waiting for inference. Exactly one of
// Markdown or ConvertErr is meaningful.
type BatchItem struct {
	FileID     string    `json:"fileId"`
	Seq        int       `json:"seq"`
	Filename   string    `json:"filename"`
	Markdown   string    `json:"markdown,omitempty"`
	ConvertErr string    `json:"convertErr,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Failed reports whether conversion produced an error instead of markdown.
func (i BatchItem) Failed() bool {
	return i.ConvertErr != ""
}

// BatchResult is the terminal (or, when Final is false, incremental) outcome
// for one file. Immutable once created.
type BatchResult struct {
	FileID   string          `json:"fileId"`
	Filename string          `json:"filename"`
	Success  bool            `json:"success"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
	Elapsed  time.Duration   `json:"elapsed"`
	Final    bool            `json:"final"`
}

// AnalyzeConfig is the per-job model configuration handed to the inference
// collaborator alongside each document.
type AnalyzeConfig struct {
	Schema      json.RawMessage `json:"schema,omitempty"`
	Model       string          `json:"model,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}
