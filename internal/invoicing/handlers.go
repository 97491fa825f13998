package invoicing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/invoiceflow/internal/scanning"
)

// maxWebhookBody bounds payment webhook payloads
const maxWebhookBody = int64(64 << 10)

const fileTooLarge = "File is too large. Maximum size is 50MB. Please compress or resize your image."

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes the {"error": message} body every failure uses
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// respondError maps service errors to status codes. Validation messages are
// shown as is; anything unexpected is logged and replaced by generic.
func respondError(w http.ResponseWriter, err error, notFound, generic string) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, verr.Message, http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		if notFound == "" {
			notFound = "Not found"
		}
		writeError(w, notFound, http.StatusNotFound)
	case errors.Is(err, ErrSweepInProgress):
		writeError(w, "Overdue sweep already in progress", http.StatusConflict)
	default:
		slog.Error(generic, "error", err)
		writeError(w, generic, http.StatusInternalServerError)
	}
}

// parseMultipart reads a multipart form bounded by the upload limit
func parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, scanning.MaxUploadSize)
	if err := r.ParseMultipartForm(scanning.MaxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, fileTooLarge, http.StatusBadRequest)
			return false
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return false
	}
	return true
}

// formFile returns an optional uploaded file; a missing field yields nil data
func formFile(r *http.Request, field string) (data []byte, filename, contentType string, err error) {
	f, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", "", nil
	}
	if err != nil {
		return nil, "", "", err
	}
	defer f.Close()

	data, err = io.ReadAll(f)
	if err != nil {
		return nil, "", "", fmt.Errorf("reading %s: %w", field, err)
	}
	contentType = header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = scanning.ContentTypeFor(header.Filename)
	}
	return data, header.Filename, contentType, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetFile serves stored receipts and invoice documents
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	data, err := s.service.GetFile(r.PathValue("bucket"), name)
	if err != nil {
		respondError(w, err, "File not found", "Error reading file")
		return
	}
	w.Header().Set("Content-Type", scanning.ContentTypeFor(name))
	w.Write(data)
}

// handleScanReceipt runs OCR on an upload and returns a draft expense
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}
	data, filename, contentType, err := formFile(r, "file")
	if err != nil {
		slog.Error("Error reading file data", "error", err)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}
	if data == nil {
		writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
		return
	}

	result, err := s.service.ScanReceipt(r.Context(), filename, data, contentType)
	if err != nil {
		respondError(w, err, "Receipt not found", "Failed to scan receipt")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCreateExpense saves a confirmed expense with an optional receipt file
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}
	data, filename, _, err := formFile(r, "file")
	if err != nil {
		slog.Error("Error reading file data", "error", err)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	expense, err := s.service.CreateExpense(r.Context(), ExpenseInput{
		Merchant: r.FormValue("merchant"),
		Amount:   r.FormValue("amount"),
		Category: r.FormValue("category"),
		Date:     r.FormValue("date"),
		Filename: filename,
		File:     data,
	})
	if err != nil {
		respondError(w, err, "Expense not found", "Failed to save expense")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          expense.ID,
		"receipt_url": expense.ReceiptURL,
	})
}

// handleListExpenses returns all expenses; errors yield an empty list
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses()
	if err != nil {
		slog.Error("Error listing expenses", "error", err)
		expenses = []*Expense{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": expenses})
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteExpense(r.PathValue("id")); err != nil {
		respondError(w, err, "Expense not found", "Failed to delete expense")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCategorize suggests a category; model failures answer Other
func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Missing or invalid 'text'", http.StatusBadRequest)
		return
	}

	category, err := s.service.Categorize(r.Context(), req.Text)
	if IsValidation(err) {
		respondError(w, err, "", "")
		return
	}
	if err != nil {
		slog.Error("Categorize error", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"error": "Categorization failed", "category": string(category)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"category": string(category)})
}

// handleListClients returns all clients; errors yield an empty list
func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.service.ListClients()
	if err != nil {
		slog.Error("Error listing clients", "error", err)
		clients = []*Client{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": clients})
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	client, err := s.service.CreateClient(req.Name, req.Email)
	if err != nil {
		respondError(w, err, "", "Failed to create client")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"client": client})
}

func (s *Server) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	var update ClientUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	client, err := s.service.UpdateClient(r.PathValue("id"), update)
	if err != nil {
		respondError(w, err, "Client not found", "Failed to update client")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client": client})
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteClient(r.PathValue("id")); err != nil {
		respondError(w, err, "Client not found", "Failed to delete client")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListInvoices returns the most recent invoices; errors yield an empty list
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.service.ListRecentInvoices()
	if err != nil {
		slog.Error("Error listing invoices", "error", err)
		invoices = []*Invoice{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := s.service.GetInvoice(r.PathValue("id"))
	if err != nil {
		respondError(w, err, "Invoice not found", "Failed to get invoice")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

// handlePreviewInvoice renders a draft invoice PDF
func (s *Server) handlePreviewInvoice(w http.ResponseWriter, r *http.Request) {
	var req ComposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	pdf, err := s.service.PreviewInvoice(req)
	if err != nil {
		respondError(w, err, "Client not found", "Failed to render invoice")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="invoice.pdf"`)
	w.Write(pdf)
}

// handleSendInvoice creates the invoice, its payment link and emails the client
func (s *Server) handleSendInvoice(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}
	pdf, _, _, err := formFile(r, "pdf")
	if err != nil {
		slog.Error("Error reading invoice PDF", "error", err)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	var expenseIDs []string
	if raw := strings.TrimSpace(r.FormValue("expenseIds")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &expenseIDs); err != nil {
			writeError(w, "Invalid expenseIds", http.StatusBadRequest)
			return
		}
	}

	result, err := s.service.SendInvoice(r.Context(), SendRequest{
		ClientID:   r.FormValue("clientId"),
		Amount:     r.FormValue("amount"),
		ExpenseIDs: expenseIDs,
		PDF:        pdf,
	})
	if err != nil {
		respondError(w, err, "Client not found", "Failed to send invoice")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCreateCheckout starts a Pro subscription checkout
func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PriceID string `json:"priceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	url, err := s.service.CreateSubscriptionCheckout(r.Context(), req.PriceID)
	if err != nil {
		respondError(w, err, "", "Failed to create checkout")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleStripeWebhook applies payment notifications
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	if err := s.service.HandlePaymentEvent(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		respondError(w, err, "", "Webhook handler failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// handleCron runs the overdue sweep for an external scheduler
func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	if !s.authorizeCron(r) {
		writeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	result, err := s.service.Sweep(r.Context())
	if err != nil {
		respondError(w, err, "", "Cron failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleInvoiceReport(w http.ResponseWriter, r *http.Request) {
	s.writeCSV(w, "invoiceflow-invoice-report", s.service.WriteInvoiceReport)
}

func (s *Server) handleTaxSummary(w http.ResponseWriter, r *http.Request) {
	s.writeCSV(w, "invoiceflow-tax-summary", s.service.WriteTaxSummary)
}

func (s *Server) handleClientStatements(w http.ResponseWriter, r *http.Request) {
	s.writeCSV(w, "invoiceflow-client-statements", s.service.WriteClientStatements)
}

// writeCSV buffers a report so a failure can still produce an error response
func (s *Server) writeCSV(w http.ResponseWriter, name string, write func(io.Writer) error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		respondError(w, err, "", "Failed to build report")
		return
	}
	filename := fmt.Sprintf("%s-%s.csv", name, s.service.timeSource.Now().Format(DateLayout))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(buf.Bytes())
}
