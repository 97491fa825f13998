package mail

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
)

// DefaultFrom is the sender used when none is configured
const DefaultFrom = "InvoiceFlow AI <onboarding@resend.dev>"

// Attachment is a file sent along with a message
type Attachment struct {
	Filename string
	Content  []byte
}

// Message is a rendered email ready to send
type Message struct {
	To          []string
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Mailer delivers transactional email
type Mailer interface {
	// Send delivers msg and returns the provider's message ID
	Send(ctx context.Context, msg *Message) (string, error)
}

// Resend implements Mailer with the Resend API
type Resend struct {
	client *resend.Client
	from   string
}

// NewResend creates a Resend mailer
func NewResend(apiKey, from string) (*Resend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if from == "" {
		from = DefaultFrom
	}
	return &Resend{client: resend.NewClient(apiKey), from: from}, nil
}

// Send delivers a message through Resend
func (r *Resend) Send(ctx context.Context, msg *Message) (string, error) {
	req := &resend.SendEmailRequest{
		From:    r.from,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
	}
	for _, a := range msg.Attachments {
		req.Attachments = append(req.Attachments, &resend.Attachment{
			Filename: a.Filename,
			Content:  a.Content,
		})
	}

	sent, err := r.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("sending email: %w", err)
	}
	if sent.Id == "" {
		return "", fmt.Errorf("sending email: no message id returned")
	}
	return sent.Id, nil
}
