package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

// InvoiceEmail is the data for a new invoice notification
type InvoiceEmail struct {
	ClientName string
	Amount     string
	PaymentURL string
	Signature  string
}

// ReminderEmail is the data for an overdue invoice reminder
type ReminderEmail struct {
	ClientName string
	Amount     string
	DueDate    string
	PaymentURL string
	Signature  string
}

var (
	invoiceTemplate = template.Must(template.New("invoice").Parse(`<p>Hi {{.ClientName}},</p>
<p>You have an invoice for <strong>{{.Amount}}</strong>.</p>
<p><a href="{{.PaymentURL}}" style="color:#f4a261;font-weight:bold;">Pay now</a></p>
<p>&mdash; {{.Signature}}</p>
`))

	reminderTemplate = template.Must(template.New("reminder").Parse(`<p>Hi {{.ClientName}},</p>
<p>This is a friendly reminder that your invoice for <strong>{{.Amount}}</strong> (due {{.DueDate}}) is overdue.</p>
<p><a href="{{.PaymentURL}}" style="color:#f4a261;font-weight:bold;">Pay now</a></p>
<p>&mdash; {{.Signature}}</p>
`))
)

// InvoiceMessage renders the invoice notification for one recipient
func InvoiceMessage(to string, data InvoiceEmail, pdf []byte) (*Message, error) {
	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering invoice email: %w", err)
	}
	msg := &Message{
		To:      []string{to},
		Subject: fmt.Sprintf("Invoice from %s - %s", data.Signature, data.Amount),
		HTML:    buf.String(),
	}
	if len(pdf) > 0 {
		msg.Attachments = []Attachment{{Filename: "invoice.pdf", Content: pdf}}
	}
	return msg, nil
}

// ReminderMessage renders the overdue reminder for one recipient
func ReminderMessage(to string, data ReminderEmail) (*Message, error) {
	var buf bytes.Buffer
	if err := reminderTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering reminder email: %w", err)
	}
	return &Message{
		To:      []string{to},
		Subject: fmt.Sprintf("Reminder: Overdue invoice - %s", data.Amount),
		HTML:    buf.String(),
	}, nil
}
