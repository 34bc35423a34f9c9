package config

import (
	"sync"
	"time"
)

var (
	inferenceOnce   sync.Once
	inferenceConfig *InferenceConfig
)

type InferenceConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func GetInferenceConfig() *InferenceConfig {
	inferenceOnce.Do(func() {
		loadEnv()
		inferenceConfig = &InferenceConfig{
			BaseURL: getEnv("INFERENCE_BASE_URL", "https://openrouter.ai/api/v1/chat/completions"),
			APIKey:  getEnv("INFERENCE_API_KEY", ""),
			Model:   getEnv("INFERENCE_MODEL", "openai/gpt-4o-mini"),
			Timeout: getEnvDuration("INFERENCE_TIMEOUT", 2*time.Minute),
		}
	})
	return inferenceConfig
}

var (
	webhookOnce   sync.Once
	webhookConfig *WebhookConfig
)

type WebhookConfig struct {
	Secret      string
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	Timeout     time.Duration
}

func GetWebhookConfig() *WebhookConfig {
	webhookOnce.Do(func() {
		loadEnv()
		webhookConfig = &WebhookConfig{
			Secret:      getEnv("WEBHOOK_SECRET", ""),
			MaxAttempts: getEnvInt("WEBHOOK_MAX_ATTEMPTS", 5),
			BaseDelay:   getEnvDuration("WEBHOOK_BASE_DELAY", time.Second),
			Multiplier:  2.0,
			Timeout:     getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		}
	})
	return webhookConfig
}
