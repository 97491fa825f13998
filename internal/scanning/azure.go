package scanning

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/services/cognitiveservices/v3.0/computervision"
	"github.com/Azure/go-autorest/autorest"
)

// Azure implements Recognizer using Azure Computer Vision printed-text OCR
type Azure struct {
	client  computervision.BaseClient
	timeout time.Duration
}

// NewAzure creates a new Azure Recognizer for a Cognitive Services endpoint
func NewAzure(endpoint, apiKey string) (*Azure, error) {
	if endpoint == "" || apiKey == "" {
		return nil, fmt.Errorf("azure endpoint and api key are required")
	}

	client := computervision.New(endpoint)
	client.Authorizer = autorest.NewCognitiveServicesAuthorizer(apiKey)

	return &Azure{
		client:  client,
		timeout: 30 * time.Second,
	}, nil
}

// Recognize runs OCR and joins the recognized words line by line
func (a *Azure) Recognize(ctx context.Context, data []byte, contentType string, progress ProgressFunc) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	report(progress, 0)
	pngData, err := toPNG(data, contentType)
	if err != nil {
		return "", err
	}
	report(progress, 0.25)

	result, err := a.client.RecognizePrintedTextInStream(
		ctx,
		true,
		io.NopCloser(bytes.NewReader(pngData)),
		computervision.OcrLanguages(computervision.En),
	)
	if err != nil {
		return "", fmt.Errorf("recognizing printed text: %w", err)
	}

	text := ocrText(result)
	report(progress, 1)
	return text, nil
}

// ocrText flattens regions -> lines -> words into newline separated text.
func ocrText(result computervision.OcrResult) string {
	if result.Regions == nil {
		return ""
	}
	var lines []string
	for _, region := range *result.Regions {
		if region.Lines == nil {
			continue
		}
		for _, line := range *region.Lines {
			if line.Words == nil {
				continue
			}
			words := make([]string, 0, len(*line.Words))
			for _, word := range *line.Words {
				if word.Text != nil {
					words = append(words, *word.Text)
				}
			}
			lines = append(lines, strings.Join(words, " "))
		}
	}
	return strings.Join(lines, "\n")
}

// Close is a no-op; the client holds no connections of its own
func (a *Azure) Close() error {
	return nil
}
