package payments

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by Disabled for every call
var ErrNotConfigured = errors.New("payment processor not configured")

// CheckoutRequest describes a one-off card payment
type CheckoutRequest struct {
	AmountCents int64
	Currency    string
	ProductName string
	Description string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// Session is a hosted, time-limited checkout
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// EventCheckoutCompleted is the webhook event type for a finished checkout
const EventCheckoutCompleted = "checkout.session.completed"

// WebhookEvent is the part of a processor notification the service acts on
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
	Metadata  map[string]string
}

// Gateway creates payment sessions with a third-party processor
type Gateway interface {
	// CreateCheckout starts a one-off payment session
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Session, error)
	// CreateSubscriptionCheckout starts a recurring subscription session for a price
	CreateSubscriptionCheckout(ctx context.Context, priceID, successURL, cancelURL string) (*Session, error)
	// ExpireCheckout closes a session so it can no longer be paid
	ExpireCheckout(ctx context.Context, sessionID string) error
	// ParseWebhook verifies and decodes a webhook payload
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// Disabled is the Gateway used when no processor is configured
type Disabled struct{}

func (Disabled) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Session, error) {
	return nil, ErrNotConfigured
}

func (Disabled) CreateSubscriptionCheckout(ctx context.Context, priceID, successURL, cancelURL string) (*Session, error) {
	return nil, ErrNotConfigured
}

func (Disabled) ExpireCheckout(ctx context.Context, sessionID string) error {
	return ErrNotConfigured
}

func (Disabled) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return nil, ErrNotConfigured
}
