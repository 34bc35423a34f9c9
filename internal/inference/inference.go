package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	cfg "github.com/wzhao556/docflow/config"
	"github.com/wzhao556/docflow/internal/models"
	"github.com/wzhao556/docflow/pkg/logger"
)

// Analyzer is the inference collaborator: one document in, one structured
// result out. The scheduler drives it per item so results can stream.
type Analyzer interface {
	Analyze(ctx context.Context, markdown string, config models.AnalyzeConfig) (json.RawMessage, error)
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     logger.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewClient(log logger.Logger) *Client {
	c := cfg.GetInferenceConfig()
	return &Client{
		baseURL:    c.BaseURL,
		apiKey:     c.APIKey,
		model:      c.Model,
		httpClient: &http.Client{Timeout: c.Timeout},
		logger:     log,
	}
}

const systemPrompt = "You are a document data extraction engine. " +
	"Extract the fields described by the provided JSON schema from the document. " +
	"Respond with a single JSON object and nothing else."

// Analyze sends one document and returns the extracted JSON payload.
func (c *Client) Analyze(ctx context.Context, markdown string, config models.AnalyzeConfig) (json.RawMessage, error) {
	model := config.Model
	if model == "" {
		model = c.model
	}

	user := markdown
	if len(config.Schema) > 0 {
		user = fmt.Sprintf("Schema:\n%s\n\nDocument:\n%s", config.Schema, markdown)
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("inference API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("inference API returned no choices")
	}

	payload := extractJSON(parsed.Choices[0].Message.Content)
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("model returned malformed JSON")
	}

	return json.RawMessage(payload), nil
}

// extractJSON strips markdown code fences some models wrap around JSON output.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}
	return content
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
