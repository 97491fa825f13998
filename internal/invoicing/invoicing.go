package invoicing

import (
	"time"

	"github.com/zombor/invoiceflow/internal/categorizing"
	"github.com/zombor/invoiceflow/internal/money"
)

// DateLayout is the calendar date format used for expense and due dates
const DateLayout = "2006-01-02"

// Status is the lifecycle state of an invoice
type Status string

const (
	StatusDraft   Status = "draft"
	StatusSent    Status = "sent"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

// Expense is a recorded business cost, optionally backed by a receipt file
type Expense struct {
	ID          string                `json:"id"`
	InvoiceID   string                `json:"invoice_id,omitempty"` // invoice this expense was billed on
	Merchant    string                `json:"merchant"`
	Amount      money.Amount          `json:"amount"`
	Category    categorizing.Category `json:"category"`
	Date        string                `json:"date"`
	ReceiptURL  *string               `json:"receipt_url"`
	ReceiptPath string                `json:"receipt_path,omitempty"` // storage key of the receipt file
	CreatedAt   time.Time             `json:"created_at"`
}

// Client is a customer that invoices are billed to
type Client struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Email     string       `json:"email"`
	TotalOwed money.Amount `json:"total_owed"`
	CreatedAt time.Time    `json:"created_at"`
}

// Invoice is a bill sent to a client with a hosted payment link
type Invoice struct {
	ID               string       `json:"id"`
	ClientID         string       `json:"client_id"`
	Amount           money.Amount `json:"amount"`
	Status           Status       `json:"status"`
	DueDate          string       `json:"due_date"`
	PDFURL           *string      `json:"pdf_url"`
	PDFPath          string       `json:"pdf_path,omitempty"`
	PaymentURL       string       `json:"payment_url,omitempty"`
	PaymentSessionID string       `json:"payment_session_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}
