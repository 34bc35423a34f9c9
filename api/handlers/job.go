package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wzhao556/docflow/internal/job"
	"github.com/wzhao556/docflow/internal/models"
	"github.com/wzhao556/docflow/internal/pipeline"
	"github.com/wzhao556/docflow/internal/service/extraction"
	"github.com/wzhao556/docflow/pkg/logger"
)

type JobHandler struct {
	service extraction.Service
	logger  logger.Logger
}

func NewJobHandler(service extraction.Service, log logger.Logger) *JobHandler {
	return &JobHandler{
		service: service,
		logger:  log,
	}
}

// SubmitResponse is returned from job submission.
type SubmitResponse struct {
	JobID       string `json:"jobId"`
	Status      string `json:"status"`
	TotalCount  int    `json:"totalCount"`
	SubmittedAt string `json:"submittedAt"`
}

// ErrorResponse wraps an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// SubmitJob accepts a multipart upload plus optional configuration fields:
// "schema" (JSON), "model", "webhook" (JSON WebhookSettings), "async".
func (h *JobHandler) SubmitJob(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid form data", err)
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		h.handleError(c, http.StatusBadRequest, "No files provided", nil)
		return
	}

	opts := extraction.SubmitOptions{
		Async: c.PostForm("async") == "true",
	}
	if schema := c.PostForm("schema"); schema != "" {
		opts.Analyze.Schema = json.RawMessage(schema)
	}
	opts.Analyze.Model = c.PostForm("model")

	if webhookSpec := c.PostForm("webhook"); webhookSpec != "" {
		var settings models.WebhookSettings
		if err := json.Unmarshal([]byte(webhookSpec), &settings); err != nil {
			h.handleError(c, http.StatusBadRequest, "Invalid webhook configuration", err)
			return
		}
		opts.Webhook = &settings
	}

	jobRecord, err := h.service.Submit(c.Request.Context(), files, opts)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Failed to submit job", err)
		return
	}

	c.JSON(http.StatusAccepted, SubmitResponse{
		JobID:       jobRecord.ID,
		Status:      string(jobRecord.Status),
		TotalCount:  jobRecord.TotalCount,
		SubmittedAt: jobRecord.SubmittedAt.Format(time.RFC3339),
	})
}

// StreamResults runs a queued job and streams per-file results over SSE as
// each one completes.
func (h *JobHandler) StreamResults(c *gin.Context) {
	jobID := c.Param("jobId")
	if jobID == "" {
		h.handleError(c, http.StatusBadRequest, "Job ID is required", nil)
		return
	}

	results, err := h.service.Stream(c.Request.Context(), jobID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, job.ErrNotFound) {
			status = http.StatusNotFound
		}
		h.handleError(c, status, "Failed to start stream", err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	var last *pipeline.ResultMessage
	c.Stream(func(w io.Writer) bool {
		msg, ok := <-results
		if !ok {
			final, err := h.service.Status(c.Request.Context(), jobID)
			if err == nil {
				c.SSEvent("done", gin.H{
					"jobId":     final.ID,
					"status":    final.Status,
					"completed": final.CompletedCount,
					"failed":    final.FailedCount,
					"total":     final.TotalCount,
				})
			} else if last != nil {
				c.SSEvent("done", gin.H{
					"jobId":     jobID,
					"completed": last.Completed,
					"failed":    last.Failed,
					"total":     last.Total,
				})
			}
			return false
		}
		last = &msg
		c.SSEvent("result", msg)
		return true
	})
}

// GetStatus returns the job snapshot.
func (h *JobHandler) GetStatus(c *gin.Context) {
	jobID := c.Param("jobId")
	if jobID == "" {
		h.handleError(c, http.StatusBadRequest, "Job ID is required", nil)
		return
	}

	jobRecord, err := h.service.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			h.handleError(c, http.StatusNotFound, "Job not found", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to get status", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobId":       jobRecord.ID,
		"status":      jobRecord.Status,
		"completed":   jobRecord.CompletedCount,
		"failed":      jobRecord.FailedCount,
		"total":       jobRecord.TotalCount,
		"percent":     jobRecord.Progress(),
		"submittedAt": jobRecord.SubmittedAt.Format(time.RFC3339),
	})
}

// CancelJob requests cooperative cancellation.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if jobID == "" {
		h.handleError(c, http.StatusBadRequest, "Job ID is required", nil)
		return
	}

	if err := h.service.Cancel(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			h.handleError(c, http.StatusNotFound, "Job not found", err)
			return
		}
		h.handleError(c, http.StatusConflict, "Failed to cancel job", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobId": jobID, "cancelled": true})
}

func (h *JobHandler) handleError(c *gin.Context, status int, message string, err error) {
	resp := ErrorResponse{Message: message}
	if err != nil {
		resp.Error = err.Error()
		h.logger.Error(message, logger.Error(err))
	}
	c.JSON(status, resp)
}
