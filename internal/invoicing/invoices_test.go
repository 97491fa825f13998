package invoicing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/invoiceflow/internal/categorizing"
	"github.com/zombor/invoiceflow/internal/document"
	"github.com/zombor/invoiceflow/internal/events"
	"github.com/zombor/invoiceflow/internal/money"
	"github.com/zombor/invoiceflow/internal/payments"
)

var _ = Describe("Invoices", func() {
	var (
		f   *fixture
		ctx context.Context
	)

	BeforeEach(func() {
		f = newFixture()
		ctx = context.Background()
		f.db.clients["client-1"] = &Client{ID: "client-1", Name: "Acme Co", Email: "billing@acme.test"}
		f.db.expenses["e1"] = &Expense{ID: "e1", Merchant: "Delta", Category: categorizing.Travel, Amount: money.MustParse("300.10")}
		f.db.expenses["e2"] = &Expense{ID: "e2", Merchant: "Figma", Category: categorizing.Software, Amount: money.MustParse("15")}
	})

	Describe("ComposeInvoice", func() {
		It("builds line items from expenses", func() {
			inv, err := f.service.ComposeInvoice(ComposeRequest{ClientID: "client-1", ExpenseIDs: []string{"e1", "e2"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(inv.ClientName).To(Equal("Acme Co"))
			Expect(inv.Items).To(HaveLen(2))
			Expect(inv.Items[0].Description).To(Equal("Delta (Travel)"))
			Expect(document.Total(inv.Items).String()).To(Equal("315.10"))
			Expect(inv.PaymentURL).To(BeEmpty())
		})

		It("accepts ad hoc items", func() {
			inv, err := f.service.ComposeInvoice(ComposeRequest{
				ClientID: "client-1",
				Items:    []document.LineItem{{Description: "Consulting", Amount: money.MustParse("100")}},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(inv.Items).To(HaveLen(1))
		})

		It("requires a client", func() {
			_, err := f.service.ComposeInvoice(ComposeRequest{ExpenseIDs: []string{"e1"}})
			Expect(IsValidation(err)).To(BeTrue())
		})

		It("requires a positive total", func() {
			_, err := f.service.ComposeInvoice(ComposeRequest{ClientID: "client-1"})
			Expect(err).To(MatchError("Invoice total must be greater than zero"))
		})

		It("returns ErrNotFound for an unknown client", func() {
			_, err := f.service.ComposeInvoice(ComposeRequest{ClientID: "ghost", ExpenseIDs: []string{"e1"}})
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("PreviewInvoice", func() {
		It("renders a PDF", func() {
			pdf, err := f.service.PreviewInvoice(ComposeRequest{ClientID: "client-1", ExpenseIDs: []string{"e1"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(bytes.HasPrefix(pdf, []byte("%PDF-"))).To(BeTrue())
		})
	})

	Describe("SendInvoice", func() {
		var (
			req    SendRequest
			result *SendResult
			err    error
		)

		BeforeEach(func() {
			f.ids.ids = []string{"inv-12345678-abcd"}
			req = SendRequest{ClientID: "client-1", Amount: "315.10", ExpenseIDs: []string{"e1", "e2"}}
		})

		JustBeforeEach(func() {
			result, err = f.service.SendInvoice(ctx, req)
		})

		It("returns the payment link and invoice id", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.InvoiceID).To(Equal("inv-12345678-abcd"))
			Expect(result.PaymentURL).To(Equal("https://checkout.test/cs_test_1"))
		})

		It("creates one payment session tagged with client and invoice", func() {
			Expect(f.gateway.requests).To(HaveLen(1))
			r := f.gateway.requests[0]
			Expect(r.AmountCents).To(Equal(int64(31510)))
			Expect(r.Currency).To(Equal("usd"))
			Expect(r.ProductName).To(Equal("Invoice - Acme Co"))
			Expect(r.SuccessURL).To(Equal("https://app.test/dashboard?paid=1"))
			Expect(r.CancelURL).To(Equal("https://app.test/dashboard/invoices/new"))
			Expect(r.Metadata).To(Equal(map[string]string{"client_id": "client-1", "invoice_id": "inv-12345678-abcd"}))
		})

		It("stores a sent invoice due in 14 days", func() {
			stored := f.db.invoices["inv-12345678-abcd"]
			Expect(stored.Status).To(Equal(StatusSent))
			Expect(stored.DueDate).To(Equal("2024-04-03"))
			Expect(stored.PaymentSessionID).To(Equal("cs_test_1"))
			Expect(stored.Amount.String()).To(Equal("315.10"))
		})

		It("renders and uploads a PDF when expenses were selected", func() {
			key := "invoices/inv-12345678-abcd.pdf"
			Expect(f.storage.files).To(HaveKey(key))
			Expect(bytes.HasPrefix(f.storage.files[key], []byte("%PDF-"))).To(BeTrue())
			Expect(*result.DownloadURL).To(Equal("https://app.test/files/" + key))
			Expect(*f.db.invoices["inv-12345678-abcd"].PDFURL).To(Equal("https://app.test/files/" + key))
		})

		It("links the expenses and adds to the client's total owed", func() {
			Expect(f.db.expenses["e1"].InvoiceID).To(Equal("inv-12345678-abcd"))
			Expect(f.db.expenses["e2"].InvoiceID).To(Equal("inv-12345678-abcd"))
			Expect(f.db.clients["client-1"].TotalOwed.String()).To(Equal("315.10"))
		})

		It("emails the client with the PDF attached", func() {
			Expect(result.EmailSent).To(BeTrue())
			Expect(result.EmailError).To(BeNil())
			Expect(f.mailer.messages).To(HaveLen(1))
			msg := f.mailer.messages[0]
			Expect(msg.To).To(Equal([]string{"billing@acme.test"}))
			Expect(msg.HTML).To(ContainSubstring("https://checkout.test/cs_test_1"))
			Expect(msg.HTML).To(ContainSubstring("$315.10"))
			Expect(msg.Attachments).To(HaveLen(1))
		})

		It("publishes invoice.sent", func() {
			Expect(f.publisher.topics()).To(ContainElement(events.TopicInvoiceSent))
		})

		When("a PDF is uploaded", func() {
			BeforeEach(func() {
				req.PDF = []byte("%PDF-client")
			})

			It("stores the uploaded document as is", func() {
				Expect(f.storage.files["invoices/inv-12345678-abcd.pdf"]).To(Equal([]byte("%PDF-client")))
			})
		})

		When("no expenses are selected and no PDF is uploaded", func() {
			BeforeEach(func() {
				req.ExpenseIDs = nil
			})

			It("sends without a document", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.DownloadURL).To(BeNil())
				Expect(f.storage.files).To(BeEmpty())
				Expect(f.mailer.messages[0].Attachments).To(BeEmpty())
			})
		})

		When("the client has no email address", func() {
			BeforeEach(func() {
				f.db.clients["client-1"].Email = ""
			})

			It("still returns a payment link and explains why no email was sent", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.PaymentURL).NotTo(BeEmpty())
				Expect(result.EmailSent).To(BeFalse())
				Expect(*result.EmailError).To(Equal("Client has no email address. Share the payment link below."))
				Expect(f.mailer.messages).To(BeEmpty())
			})
		})

		When("no mailer is configured", func() {
			BeforeEach(func() {
				f.build(func(d *ServiceDeps) { d.Mailer = nil })
			})

			It("reports email as not configured", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.EmailSent).To(BeFalse())
				Expect(*result.EmailError).To(ContainSubstring("Email not configured"))
			})
		})

		When("the email provider rejects the message", func() {
			BeforeEach(func() {
				f.mailer.err = errors.New("domain not verified")
			})

			It("returns the provider message without failing", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.EmailSent).To(BeFalse())
				Expect(*result.EmailError).To(ContainSubstring("domain not verified"))
				Expect(f.mailer.messages).To(HaveLen(1))
			})
		})

		When("the PDF upload fails", func() {
			BeforeEach(func() {
				f.storage.saveErr = errors.New("bucket gone")
			})

			It("still sends the invoice", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.DownloadURL).To(BeNil())
				Expect(f.db.invoices).To(HaveKey("inv-12345678-abcd"))
			})
		})

		When("the invoice record cannot be written", func() {
			BeforeEach(func() {
				f.db.saveInvoiceErr = errors.New("db down")
			})

			It("fails and expires the orphaned payment session", func() {
				Expect(err).To(HaveOccurred())
				Expect(IsValidation(err)).To(BeFalse())
				Expect(f.gateway.expired).To(Equal([]string{"cs_test_1"}))
				Expect(f.mailer.messages).To(BeEmpty())
				Expect(f.db.clients["client-1"].TotalOwed.String()).To(Equal("0.00"))
			})
		})

		When("the payment processor fails", func() {
			BeforeEach(func() {
				f.gateway.createErr = errors.New("stripe down")
			})

			It("fails before writing anything", func() {
				Expect(err).To(MatchError(ContainSubstring("creating payment session")))
				Expect(f.db.invoices).To(BeEmpty())
			})
		})

		When("the client does not exist", func() {
			BeforeEach(func() {
				req.ClientID = "ghost"
			})

			It("returns ErrNotFound without creating a session", func() {
				Expect(err).To(MatchError(ErrNotFound))
				Expect(f.gateway.requests).To(BeEmpty())
			})
		})

		When("an expense is already billed", func() {
			BeforeEach(func() {
				f.db.expenses["e2"].InvoiceID = "older"
			})

			It("rejects the request", func() {
				Expect(IsValidation(err)).To(BeTrue())
				Expect(f.gateway.requests).To(BeEmpty())
			})
		})

		When("the amount disagrees with the selected expenses", func() {
			BeforeEach(func() {
				req.Amount = "999.00"
			})

			It("rejects the request before charging anything", func() {
				Expect(err).To(MatchError("Amount 999.00 does not match the selected expenses total of 315.10"))
				Expect(f.gateway.requests).To(BeEmpty())
				Expect(f.db.invoices).To(BeEmpty())
				Expect(f.db.clients["client-1"].TotalOwed.String()).To(Equal("0.00"))
			})
		})

		When("expenses are selected without an amount", func() {
			BeforeEach(func() {
				req.Amount = ""
			})

			It("charges and records the expense total", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(f.gateway.requests[0].AmountCents).To(Equal(int64(31510)))
				Expect(f.db.invoices["inv-12345678-abcd"].Amount.String()).To(Equal("315.10"))
				Expect(f.db.clients["client-1"].TotalOwed.String()).To(Equal("315.10"))
			})
		})

		DescribeTable("input validation",
			func(clientID, amount, message string) {
				_, err := f.service.SendInvoice(ctx, SendRequest{ClientID: clientID, Amount: amount})
				Expect(err).To(MatchError(message))
				Expect(f.gateway.sessionCount()).To(Equal(1)) // only the JustBeforeEach send
			},
			Entry("missing client", "", "10", "Missing clientId or amount"),
			Entry("missing amount", "client-1", "", "Missing clientId or amount"),
			Entry("zero amount", "client-1", "0", "Invalid amount"),
			Entry("negative amount", "client-1", "-5", "Invalid amount"),
			Entry("not a number", "client-1", "lots", "Invalid amount"),
		)

		It("always sets the due date 14 days after creation", func() {
			for _, day := range []int{1, 15, 28} {
				f.clock.now = time.Date(2024, 2, day, 23, 0, 0, 0, time.UTC)
				f.ids.ids = []string{fmt.Sprintf("due-%d", day)}
				_, err := f.service.SendInvoice(ctx, SendRequest{ClientID: "client-1", Amount: "1"})
				Expect(err).NotTo(HaveOccurred())
				want := f.clock.now.AddDate(0, 0, 14).Format(DateLayout)
				Expect(f.db.invoices[fmt.Sprintf("due-%d", day)].DueDate).To(Equal(want))
			}
		})
	})

	Describe("ListRecentInvoices", func() {
		BeforeEach(func() {
			for i := 0; i < 12; i++ {
				id := fmt.Sprintf("inv-%02d", i)
				f.db.invoices[id] = &Invoice{ID: id, CreatedAt: fixedNow.Add(time.Duration(i) * time.Hour)}
			}
		})

		It("returns the ten newest", func() {
			invoices, err := f.service.ListRecentInvoices()
			Expect(err).NotTo(HaveOccurred())
			Expect(invoices).To(HaveLen(10))
			Expect(invoices[0].ID).To(Equal("inv-11"))
			Expect(invoices[9].ID).To(Equal("inv-02"))
		})
	})

	Describe("HandlePaymentEvent", func() {
		BeforeEach(func() {
			f.db.clients["client-1"].TotalOwed = money.MustParse("100")
			f.db.invoices["inv-1"] = &Invoice{ID: "inv-1", ClientID: "client-1", Amount: money.MustParse("60"), Status: StatusOverdue}
			f.gateway.event = &payments.WebhookEvent{
				Type:      payments.EventCheckoutCompleted,
				SessionID: "cs_1",
				Metadata:  map[string]string{"invoice_id": "inv-1"},
			}
		})

		It("marks the invoice paid and reduces what the client owes", func() {
			Expect(f.service.HandlePaymentEvent(ctx, []byte("{}"), "sig")).To(Succeed())
			Expect(f.db.invoices["inv-1"].Status).To(Equal(StatusPaid))
			Expect(f.db.clients["client-1"].TotalOwed.String()).To(Equal("40.00"))
			Expect(f.publisher.topics()).To(Equal([]string{events.TopicInvoicePaid}))
		})

		It("ignores duplicate deliveries", func() {
			Expect(f.service.HandlePaymentEvent(ctx, []byte("{}"), "sig")).To(Succeed())
			Expect(f.service.HandlePaymentEvent(ctx, []byte("{}"), "sig")).To(Succeed())
			Expect(f.db.clients["client-1"].TotalOwed.String()).To(Equal("40.00"))
			Expect(f.publisher.topics()).To(HaveLen(1))
		})

		It("never lets the total owed go negative", func() {
			f.db.clients["client-1"].TotalOwed = money.MustParse("10")
			Expect(f.service.HandlePaymentEvent(ctx, []byte("{}"), "sig")).To(Succeed())
			Expect(f.db.clients["client-1"].TotalOwed.String()).To(Equal("0.00"))
		})

		It("ignores other event types", func() {
			f.gateway.event.Type = "payment_intent.created"
			Expect(f.service.HandlePaymentEvent(ctx, []byte("{}"), "sig")).To(Succeed())
			Expect(f.db.invoices["inv-1"].Status).To(Equal(StatusOverdue))
		})

		It("acknowledges payments for unknown invoices", func() {
			f.gateway.event.Metadata["invoice_id"] = "ghost"
			Expect(f.service.HandlePaymentEvent(ctx, []byte("{}"), "sig")).To(Succeed())
		})

		It("rejects bad signatures", func() {
			f.gateway.parseErr = errors.New("bad signature")
			err := f.service.HandlePaymentEvent(ctx, []byte("{}"), "sig")
			Expect(IsValidation(err)).To(BeTrue())
		})
	})

	Describe("CreateSubscriptionCheckout", func() {
		It("uses the requested price", func() {
			url, err := f.service.CreateSubscriptionCheckout(ctx, "price_123")
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("https://checkout.test/sub/price_123"))
		})

		It("falls back to the configured pro price", func() {
			f.service.cfg.ProPriceID = "price_pro"
			_, err := f.service.CreateSubscriptionCheckout(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(f.gateway.priceIDs).To(Equal([]string{"price_pro"}))
		})

		It("requires a price", func() {
			_, err := f.service.CreateSubscriptionCheckout(ctx, "")
			Expect(err).To(MatchError("Missing price ID"))
		})
	})

	Describe("GetFile", func() {
		It("only serves known buckets", func() {
			f.storage.files["secrets/x"] = []byte("x")
			_, err := f.service.GetFile("secrets", "x")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("returns stored files", func() {
			f.storage.files["invoices/a.pdf"] = []byte("%PDF")
			data, err := f.service.GetFile("invoices", "a.pdf")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("%PDF")))
		})
	})
})
