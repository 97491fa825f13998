package scanning

import (
	"context"
	"strings"
)

// ProgressFunc receives recognition progress as a fraction between 0 and 1.
type ProgressFunc func(fraction float64)

// Recognizer extracts raw text from an uploaded image or document
type Recognizer interface {
	// Recognize returns the text found in data. progress may be nil.
	Recognize(ctx context.Context, data []byte, contentType string, progress ProgressFunc) (string, error)
	// Close releases resources held by the backend
	Close() error
}

func report(progress ProgressFunc, fraction float64) {
	if progress != nil {
		progress(fraction)
	}
}

// transcribePrompt asks a vision model for a plain transcription.
const transcribePrompt = `Transcribe all text visible in this receipt or invoice image.

Rules:
- Reproduce the text line by line, top to bottom, as it appears.
- Keep the merchant or business name on its own line if it is printed as a header.
- Keep prices exactly as printed, including currency symbols and decimal points.
- Do not summarize, translate, or explain anything.
- Do not wrap the output in markdown code blocks.`

// stripFences removes markdown code fences some models add despite instructions.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	if i := strings.Index(text, "\n"); i >= 0 {
		text = text[i+1:]
	} else {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
