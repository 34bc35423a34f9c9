package convert

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/wzhao556/docflow/pkg/logger"
)

// PDFConverter extracts the text layer of a PDF page by page.
type PDFConverter struct {
	logger logger.Logger
}

func NewPDFConverter(log logger.Logger) *PDFConverter {
	return &PDFConverter{logger: log}
}

func (p *PDFConverter) CanProcess(mimeType string) bool {
	return mimeType == "application/pdf"
}

func (p *PDFConverter) Convert(ctx context.Context, data []byte) (string, error) {
	reader := bytes.NewReader(data)

	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := pdfReader.NumPage()
	var sb strings.Builder

	for i := 1; i <= numPages; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			p.logger.Warn("Failed to extract pdf page, skipping",
				logger.Int("page", i),
				logger.Error(err),
			)
			continue
		}

		if strings.TrimSpace(text) == "" {
			continue
		}

		fmt.Fprintf(&sb, "## Page %d\n\n%s\n\n", i, strings.TrimSpace(text))
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("no extractable text in pdf (%d pages)", numPages)
	}

	return sb.String(), nil
}
