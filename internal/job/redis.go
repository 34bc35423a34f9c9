package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	cfg "github.com/wzhao556/docflow/config"
	"github.com/wzhao556/docflow/internal/models"
)

// RedisStore keeps job records in redis. Terminal jobs carry a TTL equal to
// the retention window, so purge is redis expiry.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisStore{client: client, retention: retention}
}

func NewRedisStoreFromConfig(retention time.Duration) *RedisStore {
	rc := cfg.GetRedisConfig()
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	return NewRedisStore(client, retention)
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func (r *RedisStore) Create(ctx context.Context, job *models.Job) error {
	return r.write(ctx, job)
}

func (r *RedisStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	data, err := r.client.Get(ctx, jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job from redis: %w", err)
	}

	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (r *RedisStore) Update(ctx context.Context, job *models.Job) error {
	return r.write(ctx, job)
}

func (r *RedisStore) write(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	var ttl time.Duration
	if job.Status.Terminal() {
		ttl = r.retention
	}

	if err := r.client.Set(ctx, jobKey(job.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}
