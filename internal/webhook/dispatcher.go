package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	cfg "github.com/wzhao556/docflow/config"
	"github.com/wzhao556/docflow/internal/models"
	"github.com/wzhao556/docflow/pkg/logger"
)

// Event is a job lifecycle notification type.
type Event string

const (
	EventJobQueued     Event = "job.queued"
	EventJobProcessing Event = "job.processing"
	EventJobCompleted  Event = "job.completed"
	EventJobCancelled  Event = "job.cancelled"
	EventResultReady   Event = "result.ready"
)

const (
	HeaderSignature = "X-Docflow-Signature"
	HeaderTimestamp = "X-Docflow-Timestamp"
	HeaderEvent     = "X-Docflow-Event"
)

// JobSummary is the job slice of a webhook payload.
type JobSummary struct {
	ID             string  `json:"id"`
	Status         string  `json:"status"`
	TotalCount     int     `json:"totalCount"`
	CompletedCount int     `json:"completedCount"`
	FailedCount    int     `json:"failedCount"`
	Progress       float64 `json:"progress"`
}

// Payload is the body POSTed to the caller's URL.
type Payload struct {
	Event     Event               `json:"event"`
	Timestamp int64               `json:"timestamp"`
	Job       JobSummary          `json:"job"`
	Result    *models.BatchResult `json:"result,omitempty"`
}

type Config struct {
	Secret      string
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Timeout     time.Duration
}

// Dispatcher delivers signed lifecycle notifications with bounded retries.
// Delivery failure is terminal for the notification only, never for the job.
type Dispatcher struct {
	httpClient  *http.Client
	secret      []byte
	maxAttempts int
	baseDelay   time.Duration
	multiplier  float64
	logger      logger.Logger
}

func NewDispatcher(log logger.Logger, c *Config) *Dispatcher {
	if c == nil {
		wc := cfg.GetWebhookConfig()
		c = &Config{
			Secret:      wc.Secret,
			MaxAttempts: wc.MaxAttempts,
			BaseDelay:   wc.BaseDelay,
			Multiplier:  wc.Multiplier,
			Timeout:     wc.Timeout,
		}
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}

	return &Dispatcher{
		httpClient:  &http.Client{Timeout: c.Timeout},
		secret:      []byte(c.Secret),
		maxAttempts: c.MaxAttempts,
		baseDelay:   c.BaseDelay,
		multiplier:  c.Multiplier,
		logger:      log,
	}
}

// Notify delivers one event to the job's webhook URL, retrying with
// exponential backoff until delivered or attempts are exhausted. A no-op when
// the job has no webhook configured.
func (d *Dispatcher) Notify(ctx context.Context, job *models.Job, event Event, result *models.BatchResult) error {
	if job.Webhook == nil || job.Webhook.URL == "" {
		return nil
	}

	delay := d.baseDelay
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = time.Duration(float64(delay) * d.multiplier)
		}

		err := d.send(ctx, job, event, result)
		if err == nil {
			d.logger.Debug("Webhook delivered",
				logger.String("jobId", job.ID),
				logger.String("event", string(event)),
				logger.Int("attempt", attempt),
			)
			return nil
		}
		lastErr = err

		d.logger.Warn("Webhook attempt failed",
			logger.String("jobId", job.ID),
			logger.String("event", string(event)),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
	}

	d.logger.Error("Webhook delivery exhausted",
		logger.String("jobId", job.ID),
		logger.String("event", string(event)),
		logger.String("url", job.Webhook.URL),
		logger.Int("attempts", d.maxAttempts),
		logger.Error(lastErr),
	)
	return fmt.Errorf("webhook delivery exhausted after %d attempts: %w", d.maxAttempts, lastErr)
}

// send performs one signed delivery attempt. The timestamp is fresh per
// attempt so receivers can replay-check it.
func (d *Dispatcher) send(ctx context.Context, job *models.Job, event Event, result *models.BatchResult) error {
	now := time.Now()
	payload := Payload{
		Event:     event,
		Timestamp: now.Unix(),
		Job: JobSummary{
			ID:             job.ID,
			Status:         string(job.Status),
			TotalCount:     job.TotalCount,
			CompletedCount: job.CompletedCount,
			FailedCount:    job.FailedCount,
			Progress:       job.Progress(),
		},
		Result: result,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.Webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	ts := strconv.FormatInt(now.Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, d.Sign(ts, body))
	req.Header.Set(HeaderEvent, string(event))
	for k, v := range job.Webhook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("receiver returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 over "timestamp.body".
func (d *Dispatcher) Sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, d.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
