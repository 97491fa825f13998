package document

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/skip2/go-qrcode"

	"github.com/zombor/invoiceflow/internal/money"
)

// MaxDescriptionLength caps each line item description on the page, in characters.
const MaxDescriptionLength = 50

// Brand holds the header text printed on every invoice
type Brand struct {
	Name    string
	Tagline string
}

// DefaultBrand is used when no brand is configured
var DefaultBrand = Brand{
	Name:    "InvoiceFlow AI",
	Tagline: "Austin's #1 Invoicing Tool",
}

// LineItem is one billed row
type LineItem struct {
	Description string       `json:"description"`
	Amount      money.Amount `json:"amount"`
}

// Invoice is everything needed to render an invoice document
type Invoice struct {
	Number      string
	ClientName  string
	ClientEmail string
	Items       []LineItem
	IssuedAt    time.Time
	DueDate     string
	// PaymentURL, when set, is printed as a QR code
	PaymentURL string
}

// Total sums the item amounts, rounding each to cents first.
func Total(items []LineItem) money.Amount {
	amounts := make([]money.Amount, len(items))
	for i, item := range items {
		amounts[i] = item.Amount
	}
	return money.Sum(amounts...)
}

// Renderer produces PDF invoices
type Renderer struct {
	brand Brand
}

// NewRenderer creates a Renderer. A zero Brand falls back to DefaultBrand.
func NewRenderer(brand Brand) *Renderer {
	if brand.Name == "" {
		brand = DefaultBrand
	}
	return &Renderer{brand: brand}
}

const (
	pageMargin = 20.0
	rowHeight  = 7.0
	qrSize     = 50.0
)

// Render draws the invoice and returns the PDF bytes
func (r *Renderer) Render(inv Invoice) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, pageMargin)
	pdf.AddPage()
	pageW, pageH := pdf.GetPageSize()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	// Header band
	pdf.SetFillColor(15, 76, 92)
	pdf.Rect(0, 0, pageW, 28, "F")
	pdf.SetTextColor(248, 249, 250)
	pdf.SetFont("Helvetica", "B", 22)
	pdf.Text(pageMargin, 18, tr(r.brand.Name))

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(pageMargin, 36, tr(r.brand.Tagline))
	pdf.SetDrawColor(244, 162, 97)
	pdf.SetLineWidth(2)
	pdf.Line(pageMargin, 42, pageW-pageMargin, 42)
	pdf.SetLineWidth(0.2)

	y := 55.0
	if inv.Number != "" || !inv.IssuedAt.IsZero() {
		pdf.SetFont("Helvetica", "", 9)
		meta := ""
		if inv.Number != "" {
			meta = "Invoice #" + inv.Number
		}
		if !inv.IssuedAt.IsZero() {
			if meta != "" {
				meta += "   "
			}
			meta += "Issued " + inv.IssuedAt.Format("2006-01-02")
		}
		if inv.DueDate != "" {
			meta += "   Due " + inv.DueDate
		}
		pdf.Text(pageW-pageMargin-pdf.GetStringWidth(meta), 36, tr(meta))
	}

	if inv.ClientName != "" {
		pdf.SetFont("Helvetica", "", 12)
		pdf.Text(pageMargin, y, tr("Bill To: "+inv.ClientName))
		y += 6
		if inv.ClientEmail != "" {
			pdf.Text(pageMargin, y, tr(inv.ClientEmail))
		}
		y += 12
	}

	amountX := pageW - 50
	header := func() {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.Text(pageMargin, y, "Description")
		pdf.Text(amountX, y, "Amount")
		y += 8
		pdf.SetFont("Helvetica", "", 10)
	}
	header()

	for _, item := range inv.Items {
		if y > pageH-pageMargin-rowHeight {
			pdf.AddPage()
			y = pageMargin + 10
			header()
		}
		pdf.Text(pageMargin, y, tr(truncate(item.Description, MaxDescriptionLength)))
		pdf.Text(amountX, y, item.Amount.Dollars())
		y += rowHeight
	}

	// Total (plus room for the QR code when there is one)
	need := 5.0 + rowHeight
	if inv.PaymentURL != "" {
		need += qrSize + 15
	}
	if y+need > pageH-pageMargin {
		pdf.AddPage()
		y = pageMargin + 10
	}
	y += 5
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Text(pageMargin, y, "Total")
	pdf.Text(amountX, y, Total(inv.Items).Dollars())

	if inv.PaymentURL != "" {
		png, err := qrcode.Encode(inv.PaymentURL, qrcode.Medium, 256)
		if err != nil {
			return nil, fmt.Errorf("encoding payment QR code: %w", err)
		}
		opts := fpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("payment-qr", opts, bytes.NewReader(png))
		qrY := y + 8
		pdf.ImageOptions("payment-qr", pageW-75, qrY, qrSize, qrSize, false, opts, 0, "")
		pdf.SetFont("Helvetica", "", 8)
		pdf.Text(pageW-70, qrY+qrSize+5, "Scan to pay")
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("rendering invoice: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("writing invoice PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
