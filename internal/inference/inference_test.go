package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wzhao556/docflow/internal/models"
	"github.com/wzhao556/docflow/pkg/logger"
)

func testClient(url string) *Client {
	return &Client{
		baseURL:    url,
		apiKey:     "test-key",
		model:      "test-model",
		httpClient: &http.Client{Timeout: time.Second},
		logger:     logger.NewTestLogger(),
	}
}

func chatServer(t *testing.T, content string, capture *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, capture))
		}
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, content)
	}))
}

func TestAnalyzeReturnsPayload(t *testing.T) {
	var captured chatRequest
	srv := chatServer(t, `{"invoice_number":"INV-42","total":99.5}`, &captured)
	defer srv.Close()

	c := testClient(srv.URL)
	payload, err := c.Analyze(context.Background(), "# Invoice\nINV-42, total 99.50", models.AnalyzeConfig{
		Schema: json.RawMessage(`{"type":"object","properties":{"invoice_number":{"type":"string"}}}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"invoice_number":"INV-42","total":99.5}`, string(payload))

	// Schema and document both land in the user message; model falls back
	// to the client default.
	assert.Equal(t, "test-model", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[1].Content, "invoice_number")
	assert.Contains(t, captured.Messages[1].Content, "INV-42")
}

func TestAnalyzePerJobModelOverride(t *testing.T) {
	var captured chatRequest
	srv := chatServer(t, `{}`, &captured)
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Analyze(context.Background(), "doc", models.AnalyzeConfig{Model: "other-model"})
	require.NoError(t, err)
	assert.Equal(t, "other-model", captured.Model)
}

func TestAnalyzeStripsCodeFences(t *testing.T) {
	srv := chatServer(t, "```json\n{\"ok\":true}\n```", nil)
	defer srv.Close()

	c := testClient(srv.URL)
	payload, err := c.Analyze(context.Background(), "doc", models.AnalyzeConfig{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(payload))
}

func TestAnalyzeRejectsMalformedJSON(t *testing.T) {
	srv := chatServer(t, "Sure! The extracted data is: {broken", nil)
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Analyze(context.Background(), "doc", models.AnalyzeConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed JSON")
}

func TestAnalyzeSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Analyze(context.Background(), "doc", models.AnalyzeConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestTruncatePreservesRuneBoundaries(t *testing.T) {
	long := strings.Repeat("é", 200) // 2 bytes per rune

	for _, n := range []int{1, 2, 3, 200, 201, 399} {
		got := truncate(long, n)
		assert.True(t, utf8.ValidString(got), "truncate(%d) produced invalid UTF-8", n)
		assert.LessOrEqual(t, len(got), n+len("..."))
	}

	assert.Equal(t, "short", truncate("short", 200))
}

func TestAnalyzeRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The server only notices a client disconnect (and cancels the
		// request context) once the body has been consumed.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c := testClient(srv.URL)
	_, err := c.Analyze(ctx, "doc", models.AnalyzeConfig{})
	assert.Error(t, err)
}
