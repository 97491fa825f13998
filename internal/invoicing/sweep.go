package invoicing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/invoiceflow/internal/events"
	"github.com/zombor/invoiceflow/internal/mail"
	"github.com/zombor/invoiceflow/internal/payments"
)

// OverdueGraceDays is how far past due a sent invoice must be before the sweep acts
const OverdueGraceDays = 7

// SweepResult summarizes one overdue sweep
type SweepResult struct {
	OK            bool `json:"ok"`
	OverdueCount  int  `json:"overdueCount"`
	RemindersSent int  `json:"remindersSent"`
}

// Sweep marks sent invoices more than OverdueGraceDays past due as overdue,
// issues each a fresh payment link and emails a reminder.
//
// Only one sweep runs per process; a concurrent call gets ErrSweepInProgress.
// Each invoice is claimed with a status compare-and-set before any side
// effect, so sweepers in other processes sharing the store skip it. A claim
// whose payment session cannot be created is released back to sent so the
// next sweep retries it.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	if !s.sweepMu.TryLock() {
		return nil, ErrSweepInProgress
	}
	defer s.sweepMu.Unlock()

	now := s.timeSource.Now()
	cutoff := now.AddDate(0, 0, -OverdueGraceDays).Format(DateLayout)

	invoices, err := s.db.ListInvoices()
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}

	result := &SweepResult{OK: true}
	for _, inv := range invoices {
		// Dates are YYYY-MM-DD so string order is date order
		if inv.Status != StatusSent || inv.DueDate >= cutoff {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		claimed, err := s.db.TransitionInvoiceStatus(inv.ID, StatusOverdue, now, StatusSent)
		if err != nil {
			slog.Error("Failed to mark invoice overdue", "invoice_id", inv.ID, "error", err)
			continue
		}
		if !claimed {
			slog.Info("Invoice already handled by another sweep", "invoice_id", inv.ID)
			continue
		}

		reminded, err := s.remind(ctx, inv, now)
		if err != nil {
			slog.Error("Failed to create reminder payment session", "invoice_id", inv.ID, "error", err)
			s.releaseClaim(inv.ID, now)
			continue
		}
		result.OverdueCount++
		if reminded {
			result.RemindersSent++
		}
	}

	slog.Info("Overdue sweep finished",
		"overdue_count", result.OverdueCount,
		"reminders_sent", result.RemindersSent,
	)
	return result, nil
}

// releaseClaim moves a claimed invoice back to sent
func (s *Service) releaseClaim(id string, now time.Time) {
	if _, err := s.db.TransitionInvoiceStatus(id, StatusSent, now, StatusOverdue); err != nil {
		slog.Error("Failed to release overdue claim", "invoice_id", id, "error", err)
	}
}

// remind issues a new payment link for a claimed invoice and emails the
// client. It reports whether a reminder was sent; an error means no payment
// session exists and nothing else was done.
func (s *Service) remind(ctx context.Context, inv *Invoice, now time.Time) (bool, error) {
	session, err := s.payments.CreateCheckout(ctx, payments.CheckoutRequest{
		AmountCents: inv.Amount.Cents(),
		Currency:    currency,
		ProductName: "Overdue invoice reminder",
		Description: fmt.Sprintf("Invoice #%s - %s", shortID(inv.ID), inv.Amount.Dollars()),
		SuccessURL:  s.cfg.BaseURL + "/dashboard?paid=1",
		CancelURL:   s.cfg.BaseURL + "/dashboard",
		Metadata: map[string]string{
			"client_id":  inv.ClientID,
			"invoice_id": inv.ID,
		},
	})
	if err != nil {
		return false, fmt.Errorf("creating payment session: %w", err)
	}

	// Re-read so a payment recorded since the claim is not overwritten
	current, err := s.db.GetInvoice(inv.ID)
	if err != nil {
		slog.Error("Failed to reload overdue invoice", "invoice_id", inv.ID, "error", err)
		return false, nil
	}
	if current.Status == StatusOverdue {
		current.PaymentURL = session.URL
		current.PaymentSessionID = session.ID
		current.UpdatedAt = now
		if err := s.db.SaveInvoice(current); err != nil {
			slog.Error("Failed to record reminder payment link", "invoice_id", inv.ID, "error", err)
		}
	}

	reminded := s.emailReminder(ctx, current, session.URL)

	s.publish(ctx, events.TopicInvoiceOverdue, inv.ID, events.InvoiceOverdue{
		InvoiceID:    inv.ID,
		ClientID:     inv.ClientID,
		Amount:       inv.Amount.String(),
		DueDate:      inv.DueDate,
		ReminderSent: reminded,
		OccurredAt:   now,
	})
	return reminded, nil
}

func (s *Service) emailReminder(ctx context.Context, inv *Invoice, paymentURL string) bool {
	if s.mailer == nil {
		return false
	}
	client, err := s.db.GetClient(inv.ClientID)
	if err != nil {
		slog.Warn("No client for overdue invoice", "invoice_id", inv.ID, "client_id", inv.ClientID, "error", err)
		return false
	}
	if client.Email == "" {
		return false
	}

	msg, err := mail.ReminderMessage(client.Email, mail.ReminderEmail{
		ClientName: client.Name,
		Amount:     inv.Amount.Dollars(),
		DueDate:    inv.DueDate,
		PaymentURL: paymentURL,
		Signature:  s.cfg.Signature,
	})
	if err != nil {
		slog.Error("Failed to render reminder email", "invoice_id", inv.ID, "error", err)
		return false
	}
	if _, err := s.mailer.Send(ctx, msg); err != nil {
		slog.Error("Failed to send reminder email", "invoice_id", inv.ID, "error", err)
		return false
	}
	return true
}
