package categorizing

import (
	"context"
	"fmt"
	"strings"
)

// maxInput bounds how much of an expense description is sent to a model
const maxInput = 500

// Categorizer assigns a category to a free-form expense description
type Categorizer interface {
	Categorize(ctx context.Context, text string) (Category, error)
}

// Static always answers with the same category. It stands in when no model
// is configured.
type Static Category

// Categorize returns the fixed category
func (s Static) Categorize(ctx context.Context, text string) (Category, error) {
	return Category(s), nil
}

// WithFallback wraps a Categorizer so a failed call still yields a category.
// The underlying error is returned alongside the fallback for reporting.
func WithFallback(c Categorizer, fallback Category) Categorizer {
	return &withFallback{next: c, fallback: fallback}
}

type withFallback struct {
	next     Categorizer
	fallback Category
}

func (f *withFallback) Categorize(ctx context.Context, text string) (Category, error) {
	category, err := f.next.Categorize(ctx, text)
	if err != nil {
		return f.fallback, err
	}
	if _, ok := Parse(string(category)); !ok {
		return f.fallback, nil
	}
	return category, nil
}

func systemPrompt() string {
	return fmt.Sprintf("You are an expense categorizer. Reply with exactly one of: %s. No other text.", names())
}

func userPrompt(text string) string {
	if r := []rune(text); len(r) > maxInput {
		text = string(r[:maxInput])
	}
	return fmt.Sprintf("Categorize this expense description: %q", text)
}

// fromReply maps a model reply to a category; anything unrecognized is Other.
func fromReply(reply string) Category {
	if c, ok := Parse(reply); ok {
		return c
	}
	return Other
}

func validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}
