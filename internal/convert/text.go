package convert

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// TextConverter passes plain text and markdown through unchanged.
type TextConverter struct{}

func NewTextConverter() *TextConverter {
	return &TextConverter{}
}

func (t *TextConverter) CanProcess(mimeType string) bool {
	return mimeType == "text/plain" || mimeType == "text/markdown"
}

func (t *TextConverter) Convert(ctx context.Context, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file is not valid UTF-8 text")
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("file is empty")
	}
	return text, nil
}
