package convert

import (
	"context"
	"fmt"
	"strings"

	"github.com/wzhao556/docflow/pkg/logger"
)

// Converter turns raw file bytes into markdown text.
type Converter interface {
	// CanProcess checks whether the converter handles the MIME type.
	CanProcess(mimeType string) bool

	// Convert extracts markdown from the document bytes.
	Convert(ctx context.Context, data []byte) (string, error)
}

var extToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".tiff": "image/tiff",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".md":   "text/markdown",
}

// MimeTypeForExt maps a file extension to its MIME type.
func MimeTypeForExt(ext string) (string, bool) {
	mime, ok := extToMIME[strings.ToLower(ext)]
	return mime, ok
}

// Registry holds the converters keyed by MIME type.
type Registry struct {
	converters map[string]Converter
	logger     logger.Logger
}

func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		converters: make(map[string]Converter),
		logger:     log,
	}
}

// Register binds a converter to one or more MIME types.
func (r *Registry) Register(c Converter, mimeTypes ...string) {
	for _, mt := range mimeTypes {
		r.converters[strings.ToLower(mt)] = c
	}
}

// Get returns the converter for a MIME type.
func (r *Registry) Get(mimeType string) (Converter, error) {
	c, ok := r.converters[strings.ToLower(mimeType)]
	if !ok {
		return nil, fmt.Errorf("no converter for mime type: %s", mimeType)
	}
	return c, nil
}

// DefaultRegistry wires the standard converter set: pdf, plain text/markdown,
// and Textract-backed images.
func DefaultRegistry(ctx context.Context, log logger.Logger) (*Registry, error) {
	r := NewRegistry(log)

	r.Register(NewPDFConverter(log), "application/pdf")
	r.Register(NewTextConverter(), "text/plain", "text/markdown")

	textractConverter, err := NewTextractConverter(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create textract converter: %w", err)
	}
	r.Register(textractConverter, "image/jpeg", "image/jpg", "image/png", "image/tiff")

	return r, nil
}
