package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/zombor/invoiceflow/internal/categorizing"
	"github.com/zombor/invoiceflow/internal/events"
	"github.com/zombor/invoiceflow/internal/money"
	"github.com/zombor/invoiceflow/internal/scanning"
)

// ScanResult is a draft expense guessed from a receipt. The user confirms
// or corrects every field before saving.
type ScanResult struct {
	Merchant string `json:"merchant"`
	Amount   string `json:"amount"`
	Category string `json:"category"`
	Text     string `json:"text"`
}

// ExpenseInput is the submitted expense form
type ExpenseInput struct {
	Merchant string
	Amount   string
	Category string
	Date     string
	Filename string
	File     []byte
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// sanitizeFilename keeps letters, digits, dots and dashes, and truncates
// long phone-generated names
func sanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	if filename == "." || filename == string(filepath.Separator) {
		return "receipt"
	}
	ext := unsafeFilenameChars.ReplaceAllString(filepath.Ext(filename), "_")
	base := unsafeFilenameChars.ReplaceAllString(strings.TrimSuffix(filename, filepath.Ext(filename)), "_")

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// ScanReceipt runs OCR on an upload and guesses merchant and amount
func (s *Service) ScanReceipt(ctx context.Context, filename string, data []byte, contentType string) (*ScanResult, error) {
	if len(data) == 0 {
		return nil, invalid("No file provided")
	}
	if s.recognizer == nil {
		return nil, fmt.Errorf("receipt scanning is not configured")
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = scanning.ContentTypeFor(filename)
	}
	contentType = scanning.NormalizeContentType(contentType)

	text, err := s.recognizer.Recognize(ctx, data, contentType, func(fraction float64) {
		slog.Debug("Recognizing receipt", "filename", filename, "progress", fraction)
	})
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	fields := scanning.ExtractFields(text)
	return &ScanResult{
		Merchant: fields.Merchant,
		Amount:   fields.Amount,
		Text:     text,
	}, nil
}

// CreateExpense validates the form, stores the receipt file if any, and saves the expense
func (s *Service) CreateExpense(ctx context.Context, in ExpenseInput) (*Expense, error) {
	now := s.timeSource.Now()

	merchant := strings.TrimSpace(in.Merchant)
	if merchant == "" || strings.TrimSpace(in.Amount) == "" || strings.TrimSpace(in.Category) == "" {
		return nil, invalid("Missing merchant, amount, or category")
	}
	amount, err := money.Parse(in.Amount)
	if err != nil {
		return nil, invalid("Invalid amount")
	}
	category, ok := categorizing.Parse(in.Category)
	if !ok {
		return nil, invalid("Invalid category")
	}
	date := now.Format(DateLayout)
	if d := strings.TrimSpace(in.Date); d != "" {
		parsed, err := time.Parse(DateLayout, d)
		if err != nil {
			return nil, invalid("Invalid date")
		}
		date = parsed.Format(DateLayout)
	}

	expense := &Expense{
		ID:        s.idGenerator.Generate(),
		Merchant:  merchant,
		Amount:    amount,
		Category:  category,
		Date:      date,
		CreatedAt: now,
	}

	if len(in.File) > 0 {
		key := fmt.Sprintf("%s/%d-%s", ReceiptsBucket, now.UnixMilli(), sanitizeFilename(in.Filename))
		if err := s.storage.Save(key, in.File); err != nil {
			return nil, fmt.Errorf("saving receipt file: %w", err)
		}
		url := s.fileURL(key)
		expense.ReceiptURL = &url
		expense.ReceiptPath = key
	}

	if err := s.db.SaveExpense(expense); err != nil {
		if expense.ReceiptPath != "" {
			if derr := s.storage.Delete(expense.ReceiptPath); derr != nil {
				slog.Warn("Failed to clean up receipt file", "key", expense.ReceiptPath, "error", derr)
			}
		}
		return nil, fmt.Errorf("saving expense to database: %w", err)
	}

	s.publish(ctx, events.TopicExpenseCreated, expense.ID, events.ExpenseCreated{
		ExpenseID:  expense.ID,
		Merchant:   expense.Merchant,
		Amount:     expense.Amount.String(),
		Category:   string(expense.Category),
		OccurredAt: now,
	})
	return expense, nil
}

// ListExpenses returns all expenses, newest date first
func (s *Service) ListExpenses() ([]*Expense, error) {
	expenses, err := s.db.ListExpenses()
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	sort.SliceStable(expenses, func(i, j int) bool {
		if expenses[i].Date != expenses[j].Date {
			return expenses[i].Date > expenses[j].Date
		}
		return expenses[i].CreatedAt.After(expenses[j].CreatedAt)
	})
	return expenses, nil
}

// GetExpense retrieves an expense by ID
func (s *Service) GetExpense(id string) (*Expense, error) {
	expense, err := s.db.GetExpense(id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	return expense, nil
}

// DeleteExpense removes an expense and its receipt file
func (s *Service) DeleteExpense(id string) error {
	expense, err := s.db.GetExpense(id)
	if err != nil {
		return fmt.Errorf("getting expense for deletion: %w", err)
	}

	if expense.ReceiptPath != "" {
		if err := s.storage.Delete(expense.ReceiptPath); err != nil && !errors.Is(err, ErrNotFound) {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete receipt file", "key", expense.ReceiptPath, "error", err)
		}
	}

	if err := s.db.DeleteExpense(id); err != nil {
		return fmt.Errorf("deleting expense from database: %w", err)
	}
	return nil
}
