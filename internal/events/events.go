package events

import (
	"context"
	"time"
)

// Topics published by the invoicing service
const (
	TopicExpenseCreated = "expense.created"
	TopicInvoiceSent    = "invoice.sent"
	TopicInvoiceOverdue = "invoice.overdue"
	TopicInvoicePaid    = "invoice.paid"
)

// Publisher emits domain events. Failures are reported but never roll back
// the change that produced the event.
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, event any) error
	Close() error
}

// ExpenseCreated is published after an expense is saved
type ExpenseCreated struct {
	ExpenseID  string    `json:"expense_id"`
	Merchant   string    `json:"merchant"`
	Amount     string    `json:"amount"`
	Category   string    `json:"category"`
	OccurredAt time.Time `json:"occurred_at"`
}

// InvoiceSent is published after an invoice is created and its link issued
type InvoiceSent struct {
	InvoiceID  string    `json:"invoice_id"`
	ClientID   string    `json:"client_id"`
	Amount     string    `json:"amount"`
	DueDate    string    `json:"due_date"`
	EmailSent  bool      `json:"email_sent"`
	OccurredAt time.Time `json:"occurred_at"`
}

// InvoiceOverdue is published when the sweep marks an invoice overdue
type InvoiceOverdue struct {
	InvoiceID    string    `json:"invoice_id"`
	ClientID     string    `json:"client_id"`
	Amount       string    `json:"amount"`
	DueDate      string    `json:"due_date"`
	ReminderSent bool      `json:"reminder_sent"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// InvoicePaid is published when a checkout completes for an invoice
type InvoicePaid struct {
	InvoiceID  string    `json:"invoice_id"`
	ClientID   string    `json:"client_id"`
	Amount     string    `json:"amount"`
	SessionID  string    `json:"session_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Nop discards every event
type Nop struct{}

// Publish does nothing
func (Nop) Publish(context.Context, string, string, any) error { return nil }

// Close does nothing
func (Nop) Close() error { return nil }
