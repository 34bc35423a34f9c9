package config

import (
	"log"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	pipelineOnce   sync.Once
	pipelineConfig *PipelineConfig
)

// PipelineConfig holds the tuning knobs for the processing pipeline. Values come
// from docflow.yaml when present, otherwise from environment variables, otherwise
// from the defaults below.
type PipelineConfig struct {
	ConvertWorkers   int           `yaml:"convertWorkers"`
	ConvertQueueSize int           `yaml:"convertQueueSize"`
	ConvertTimeout   time.Duration `yaml:"convertTimeout"`

	MinBatchSize       int           `yaml:"minBatchSize"`
	MaxBatchSize       int           `yaml:"maxBatchSize"`
	InitialBatchSize   int           `yaml:"initialBatchSize"`
	MaxBatchWait       time.Duration `yaml:"maxBatchWait"`
	TargetBatchLatency time.Duration `yaml:"targetBatchLatency"`
	MaxInFlightBatches int           `yaml:"maxInFlightBatches"`
	BatchTimeout       time.Duration `yaml:"batchTimeout"`

	FileRetention time.Duration `yaml:"fileRetention"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
	JobRetention  time.Duration `yaml:"jobRetention"`

	MaxFileSize  int64    `yaml:"maxFileSize"`
	AllowedTypes []string `yaml:"allowedTypes"`
}

func defaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		ConvertWorkers:   getEnvInt("CONVERT_WORKERS", 4),
		ConvertQueueSize: getEnvInt("CONVERT_QUEUE_SIZE", 64),
		ConvertTimeout:   getEnvDuration("CONVERT_TIMEOUT", 2*time.Minute),

		MinBatchSize:       getEnvInt("MIN_BATCH_SIZE", 1),
		MaxBatchSize:       getEnvInt("MAX_BATCH_SIZE", 10),
		InitialBatchSize:   getEnvInt("INITIAL_BATCH_SIZE", 4),
		MaxBatchWait:       getEnvDuration("MAX_BATCH_WAIT", 500*time.Millisecond),
		TargetBatchLatency: getEnvDuration("TARGET_BATCH_LATENCY", 30*time.Second),
		MaxInFlightBatches: getEnvInt("MAX_INFLIGHT_BATCHES", 3),
		BatchTimeout:       getEnvDuration("BATCH_TIMEOUT", 5*time.Minute),

		FileRetention: getEnvDuration("FILE_RETENTION", 24*time.Hour),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Minute),
		JobRetention:  getEnvDuration("JOB_RETENTION", 24*time.Hour),

		MaxFileSize:  50 * 1024 * 1024, // 50MB
		AllowedTypes: []string{".pdf", ".jpg", ".jpeg", ".png", ".tiff", ".txt", ".md"},
	}
}

func GetPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		loadEnv()
		pipelineConfig = defaultPipelineConfig()

		path := getEnv("DOCFLOW_CONFIG", "docflow.yaml")
		data, err := os.ReadFile(path)
		if err != nil {
			return
		}
		if err := yaml.Unmarshal(data, pipelineConfig); err != nil {
			log.Printf("Warning: ignoring malformed config file %s: %v", path, err)
			pipelineConfig = defaultPipelineConfig()
		}
	})
	return pipelineConfig
}
