package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	cfg "github.com/wzhao556/docflow/config"
)

// TaskTypeJobProcess runs one submitted job through the pipeline.
const TaskTypeJobProcess = "job:process"

// JobPayload is the task body for TaskTypeJobProcess. The job record itself
// lives in the job store; the task only carries the id.
type JobPayload struct {
	JobID string `json:"jobId"`
}

// Queue hands jobs to the async worker.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
}

type AsynqQueue struct {
	client *asynq.Client
}

type Config struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ProcessTimeout time.Duration
}

func DefaultConfig() *Config {
	rc := cfg.GetRedisConfig()
	return &Config{
		RedisAddr:      rc.Addr,
		RedisPassword:  rc.Password,
		RedisDB:        rc.DB,
		ProcessTimeout: 30 * time.Minute,
	}
}

func NewAsynqQueue(c *Config) *AsynqQueue {
	if c == nil {
		c = DefaultConfig()
	}
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	})
	return &AsynqQueue{client: client}
}

// Enqueue submits the job for background processing. No asynq-level retries:
// per-file failures are normal completion, and rerunning a half-finished job
// would double-count results.
func (q *AsynqQueue) Enqueue(ctx context.Context, jobID string) error {
	payload, err := json.Marshal(JobPayload{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TaskTypeJobProcess, payload,
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
	)

	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}
