package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/zombor/invoiceflow/internal/document"
	"github.com/zombor/invoiceflow/internal/events"
	"github.com/zombor/invoiceflow/internal/mail"
	"github.com/zombor/invoiceflow/internal/money"
	"github.com/zombor/invoiceflow/internal/payments"
)

const (
	// DueDays is how long a client has to pay a new invoice
	DueDays = 14

	// RecentInvoiceLimit bounds the recent invoices list
	RecentInvoiceLimit = 10
)

const currency = "usd"

const (
	noEmailReason     = "Client has no email address. Share the payment link below."
	mailNotConfigured = "Email not configured. Add a Resend API key to send invoices by email. You can still share the payment link below."
	emailFailedReason = "Email could not be sent. Share the payment link below with your client."
)

// ComposeRequest selects what goes on an invoice: stored expenses or ad hoc items
type ComposeRequest struct {
	ClientID   string              `json:"clientId"`
	ExpenseIDs []string            `json:"expenseIds"`
	Items      []document.LineItem `json:"items"`
}

// SendRequest is the submitted invoice form
type SendRequest struct {
	ClientID   string
	Amount     string
	ExpenseIDs []string
	// PDF is an optional client-rendered document
	PDF []byte
}

// SendResult reports the payment link, document link and email outcome
type SendResult struct {
	PaymentURL  string  `json:"paymentUrl"`
	DownloadURL *string `json:"downloadUrl"`
	InvoiceID   string  `json:"invoiceId"`
	EmailSent   bool    `json:"emailSent"`
	EmailError  *string `json:"emailError"`
}

// lineItems describes each expense as "<merchant> (<category>)"
func lineItems(expenses []*Expense) []document.LineItem {
	items := make([]document.LineItem, 0, len(expenses))
	for _, e := range expenses {
		items = append(items, document.LineItem{
			Description: fmt.Sprintf("%s (%s)", e.Merchant, e.Category),
			Amount:      e.Amount,
		})
	}
	return items
}

// selectedExpenses loads expenses by ID, rejecting unknown or already billed ones
func (s *Service) selectedExpenses(ids []string) ([]*Expense, error) {
	expenses := make([]*Expense, 0, len(ids))
	for _, id := range ids {
		expense, err := s.db.GetExpense(id)
		if errors.Is(err, ErrNotFound) {
			return nil, invalid(fmt.Sprintf("Expense %s not found", id))
		}
		if err != nil {
			return nil, fmt.Errorf("getting expense %s: %w", id, err)
		}
		if expense.InvoiceID != "" {
			return nil, invalid(fmt.Sprintf("Expense %s is already on an invoice", id))
		}
		expenses = append(expenses, expense)
	}
	return expenses, nil
}

// ComposeInvoice assembles the client, items and total for a document
func (s *Service) ComposeInvoice(req ComposeRequest) (*document.Invoice, error) {
	if strings.TrimSpace(req.ClientID) == "" {
		return nil, invalid("Select a client")
	}
	client, err := s.db.GetClient(req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("getting client: %w", err)
	}

	items := req.Items
	if len(req.ExpenseIDs) > 0 {
		expenses, err := s.selectedExpenses(req.ExpenseIDs)
		if err != nil {
			return nil, err
		}
		items = lineItems(expenses)
	}
	if !document.Total(items).IsPositive() {
		return nil, invalid("Invoice total must be greater than zero")
	}

	now := s.timeSource.Now()
	return &document.Invoice{
		ClientName:  client.Name,
		ClientEmail: client.Email,
		Items:       items,
		IssuedAt:    now,
		DueDate:     now.AddDate(0, 0, DueDays).Format(DateLayout),
	}, nil
}

// PreviewInvoice renders the composed invoice without a payment link
func (s *Service) PreviewInvoice(req ComposeRequest) ([]byte, error) {
	inv, err := s.ComposeInvoice(req)
	if err != nil {
		return nil, err
	}
	pdf, err := s.renderer.Render(*inv)
	if err != nil {
		return nil, fmt.Errorf("rendering invoice: %w", err)
	}
	return pdf, nil
}

// SendInvoice creates a payment session and the invoice record, stores the
// document, bills the selected expenses and emails the client.
func (s *Service) SendInvoice(ctx context.Context, req SendRequest) (*SendResult, error) {
	clientID := strings.TrimSpace(req.ClientID)
	amountText := strings.TrimSpace(req.Amount)
	if clientID == "" || (amountText == "" && len(req.ExpenseIDs) == 0) {
		return nil, invalid("Missing clientId or amount")
	}
	var amount money.Amount
	if amountText != "" {
		parsed, err := money.Parse(amountText)
		if err != nil || !parsed.IsPositive() {
			return nil, invalid("Invalid amount")
		}
		amount = parsed
	}

	client, err := s.db.GetClient(clientID)
	if err != nil {
		return nil, fmt.Errorf("getting client: %w", err)
	}
	expenses, err := s.selectedExpenses(req.ExpenseIDs)
	if err != nil {
		return nil, err
	}
	// Selected expenses fix the amount; a submitted amount must agree
	if len(expenses) > 0 {
		total := document.Total(lineItems(expenses))
		if amountText != "" && !amount.Equal(total) {
			return nil, invalid(fmt.Sprintf("Amount %s does not match the selected expenses total of %s", amount, total))
		}
		if !total.IsPositive() {
			return nil, invalid("Invoice total must be greater than zero")
		}
		amount = total
	}

	now := s.timeSource.Now()
	id := s.idGenerator.Generate()

	session, err := s.payments.CreateCheckout(ctx, payments.CheckoutRequest{
		AmountCents: amount.Cents(),
		Currency:    currency,
		ProductName: "Invoice - " + client.Name,
		Description: "InvoiceFlow AI invoice",
		SuccessURL:  s.cfg.BaseURL + "/dashboard?paid=1",
		CancelURL:   s.cfg.BaseURL + "/dashboard/invoices/new",
		Metadata: map[string]string{
			"client_id":  client.ID,
			"invoice_id": id,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating payment session: %w", err)
	}

	invoice := &Invoice{
		ID:               id,
		ClientID:         client.ID,
		Amount:           amount,
		Status:           StatusSent,
		DueDate:          now.AddDate(0, 0, DueDays).Format(DateLayout),
		PaymentURL:       session.URL,
		PaymentSessionID: session.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	pdf := req.PDF
	if len(pdf) == 0 && len(expenses) > 0 {
		pdf, err = s.renderer.Render(document.Invoice{
			Number:      shortID(id),
			ClientName:  client.Name,
			ClientEmail: client.Email,
			Items:       lineItems(expenses),
			IssuedAt:    now,
			DueDate:     invoice.DueDate,
			PaymentURL:  session.URL,
		})
		if err != nil {
			slog.Error("Failed to render invoice", "invoice_id", id, "error", err)
			pdf = nil
		}
	}

	if err := s.db.SaveInvoice(invoice); err != nil {
		// Nothing references the session yet; close it so it cannot be paid
		if xerr := s.payments.ExpireCheckout(ctx, session.ID); xerr != nil {
			slog.Error("Failed to expire orphaned payment session", "session_id", session.ID, "error", xerr)
		}
		return nil, fmt.Errorf("saving invoice to database: %w", err)
	}

	if len(pdf) > 0 {
		s.storeInvoicePDF(invoice, pdf)
	}

	for _, e := range expenses {
		e.InvoiceID = id
		if err := s.db.SaveExpense(e); err != nil {
			slog.Error("Failed to link expense to invoice", "expense_id", e.ID, "invoice_id", id, "error", err)
		}
	}
	if err := s.db.UpdateClientOwed(client.ID, func(owed money.Amount) money.Amount {
		return owed.Add(amount)
	}); err != nil {
		slog.Error("Failed to update client total owed", "client_id", client.ID, "error", err)
	}

	result := &SendResult{
		PaymentURL:  session.URL,
		DownloadURL: invoice.PDFURL,
		InvoiceID:   id,
	}
	if reason := s.emailInvoice(ctx, client, invoice, pdf); reason != "" {
		result.EmailError = &reason
	} else {
		result.EmailSent = true
	}

	s.publish(ctx, events.TopicInvoiceSent, id, events.InvoiceSent{
		InvoiceID:  id,
		ClientID:   client.ID,
		Amount:     amount.String(),
		DueDate:    invoice.DueDate,
		EmailSent:  result.EmailSent,
		OccurredAt: now,
	})
	return result, nil
}

// storeInvoicePDF uploads the document and records its link. Failures are
// logged; the invoice stays valid without a document.
func (s *Service) storeInvoicePDF(invoice *Invoice, pdf []byte) {
	key := InvoicesBucket + "/" + invoice.ID + ".pdf"
	if err := s.storage.Save(key, pdf); err != nil {
		slog.Error("Failed to upload invoice PDF", "invoice_id", invoice.ID, "error", err)
		return
	}
	url := s.fileURL(key)
	invoice.PDFURL = &url
	invoice.PDFPath = key
	if err := s.db.SaveInvoice(invoice); err != nil {
		slog.Error("Failed to record invoice PDF link", "invoice_id", invoice.ID, "error", err)
	}
}

// emailInvoice sends the invoice email and returns "" on success, or the
// reason it was not sent.
func (s *Service) emailInvoice(ctx context.Context, client *Client, invoice *Invoice, pdf []byte) string {
	if strings.TrimSpace(client.Email) == "" {
		return noEmailReason
	}
	if s.mailer == nil {
		return mailNotConfigured
	}

	msg, err := mail.InvoiceMessage(client.Email, mail.InvoiceEmail{
		ClientName: client.Name,
		Amount:     invoice.Amount.Dollars(),
		PaymentURL: invoice.PaymentURL,
		Signature:  s.cfg.Signature,
	}, pdf)
	if err != nil {
		slog.Error("Failed to render invoice email", "invoice_id", invoice.ID, "error", err)
		return emailFailedReason
	}
	if _, err := s.mailer.Send(ctx, msg); err != nil {
		slog.Error("Failed to send invoice email", "invoice_id", invoice.ID, "error", err)
		return err.Error()
	}
	return ""
}

// ListRecentInvoices returns the newest invoices, at most RecentInvoiceLimit
func (s *Service) ListRecentInvoices() ([]*Invoice, error) {
	invoices, err := s.listInvoicesNewestFirst()
	if err != nil {
		return nil, err
	}
	if len(invoices) > RecentInvoiceLimit {
		invoices = invoices[:RecentInvoiceLimit]
	}
	return invoices, nil
}

func (s *Service) listInvoicesNewestFirst() ([]*Invoice, error) {
	invoices, err := s.db.ListInvoices()
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
	})
	return invoices, nil
}

// GetInvoice retrieves an invoice by ID
func (s *Service) GetInvoice(id string) (*Invoice, error) {
	invoice, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	return invoice, nil
}

// GetFile returns a stored receipt or invoice document
func (s *Service) GetFile(bucket, name string) ([]byte, error) {
	if bucket != ReceiptsBucket && bucket != InvoicesBucket {
		return nil, fmt.Errorf("bucket %s: %w", bucket, ErrNotFound)
	}
	data, err := s.storage.Get(bucket + "/" + name)
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}
	return data, nil
}

// HandlePaymentEvent applies a verified payment processor notification.
// A completed checkout for a sent or overdue invoice marks it paid.
func (s *Service) HandlePaymentEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := s.payments.ParseWebhook(payload, signature)
	if err != nil {
		slog.Warn("Rejected payment webhook", "error", err)
		return invalid("Invalid webhook signature")
	}
	if event.Type != payments.EventCheckoutCompleted {
		return nil
	}
	invoiceID := event.Metadata["invoice_id"]
	if invoiceID == "" {
		return nil
	}

	now := s.timeSource.Now()
	paid, err := s.db.TransitionInvoiceStatus(invoiceID, StatusPaid, now, StatusSent, StatusOverdue)
	if errors.Is(err, ErrNotFound) {
		slog.Warn("Payment for unknown invoice", "invoice_id", invoiceID, "session_id", event.SessionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("marking invoice paid: %w", err)
	}
	if !paid {
		// Duplicate delivery or an invoice that was never payable
		return nil
	}

	invoice, err := s.db.GetInvoice(invoiceID)
	if err != nil {
		return fmt.Errorf("getting paid invoice: %w", err)
	}
	if err := s.db.UpdateClientOwed(invoice.ClientID, func(owed money.Amount) money.Amount {
		return owed.Sub(invoice.Amount)
	}); err != nil {
		slog.Error("Failed to update client total owed", "client_id", invoice.ClientID, "error", err)
	}

	slog.Info("Invoice paid", "invoice_id", invoiceID, "session_id", event.SessionID)
	s.publish(ctx, events.TopicInvoicePaid, invoiceID, events.InvoicePaid{
		InvoiceID:  invoiceID,
		ClientID:   invoice.ClientID,
		Amount:     invoice.Amount.String(),
		SessionID:  event.SessionID,
		OccurredAt: now,
	})
	return nil
}

// CreateSubscriptionCheckout starts a Pro plan checkout and returns its URL
func (s *Service) CreateSubscriptionCheckout(ctx context.Context, priceID string) (string, error) {
	if priceID == "" {
		priceID = s.cfg.ProPriceID
	}
	if priceID == "" {
		return "", invalid("Missing price ID")
	}

	session, err := s.payments.CreateSubscriptionCheckout(ctx, priceID,
		s.cfg.BaseURL+"/dashboard?sub=pro",
		s.cfg.BaseURL+"/pro",
	)
	if err != nil {
		return "", fmt.Errorf("creating subscription checkout: %w", err)
	}
	return session.URL, nil
}

// shortID is the first 8 characters of an ID, for display
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
