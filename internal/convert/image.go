package convert

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	cfg "github.com/wzhao556/docflow/config"
	"github.com/wzhao556/docflow/pkg/logger"
)

// TextractConverter runs image OCR through AWS Textract and renders the
// detected lines as markdown.
type TextractConverter struct {
	client *textract.Client
	logger logger.Logger
}

func NewTextractConverter(ctx context.Context, log logger.Logger) (*TextractConverter, error) {
	textractCfg := cfg.GetTextractConfig()

	creds := credentials.NewStaticCredentialsProvider(
		textractCfg.AccessKey,
		textractCfg.SecretKey,
		"",
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(textractCfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &TextractConverter{
		client: textract.NewFromConfig(awsCfg),
		logger: log,
	}, nil
}

func (t *TextractConverter) CanProcess(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg", "image/png", "image/tiff":
		return true
	}
	return false
}

func (t *TextractConverter) Convert(ctx context.Context, data []byte) (string, error) {
	input := &textract.DetectDocumentTextInput{
		Document: &types.Document{
			Bytes: data,
		},
	}

	result, err := t.client.DetectDocumentText(ctx, input)
	if err != nil {
		return "", fmt.Errorf("textract detection failed: %w", err)
	}

	var lines []string
	for _, block := range result.Blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		lines = append(lines, *block.Text)
	}

	if len(lines) == 0 {
		return "", fmt.Errorf("no text detected in image")
	}

	return strings.Join(lines, "\n"), nil
}
