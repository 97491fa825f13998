package invoicing

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Server handles HTTP requests for the invoicing API
type Server struct {
	service    *Service
	basicAuth  BasicAuth
	cronSecret string
	mux        *http.ServeMux
}

// BasicAuth holds basic authentication credentials. Password may be a
// bcrypt hash ("$2a$...", "$2b$...", "$2y$...") or plain text.
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) enabled() bool {
	return b.Username != "" || b.Password != ""
}

func (b BasicAuth) hashed() bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(b.Password, prefix) {
			return true
		}
	}
	return false
}

// check compares credentials without leaking timing on the plain-text path
func (b BasicAuth) check(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(b.Username)) == 1
	if b.hashed() {
		return bcrypt.CompareHashAndPassword([]byte(b.Password), []byte(password)) == nil && userOK
	}
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(b.Password)) == 1
	return userOK && passOK
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth, cronSecret string) *Server {
	return NewServerWithMux(service, basicAuth, cronSecret, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, cronSecret string, mux *http.ServeMux) *Server {
	s := &Server{
		service:    service,
		basicAuth:  basicAuth,
		cronSecret: cronSecret,
		mux:        mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if !s.basicAuth.enabled() {
		return true // No auth required if not configured
	}
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return s.basicAuth.check(username, password)
}

// authorizeCron checks the bearer token used by the scheduler. With no
// secret configured the cron route is closed.
func (s *Server) authorizeCron(r *http.Request) bool {
	if s.cronSecret == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) == 1
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="InvoiceFlow"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	// Unauthenticated or self-authenticated routes
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /files/{bucket}/{name}", s.handleGetFile)
	s.mux.HandleFunc("POST /api/stripe/webhook", s.handleStripeWebhook)
	s.mux.HandleFunc("GET /api/automations/cron", s.handleCron)

	// Expenses
	s.mux.HandleFunc("POST /api/expenses/scan", s.requireAuth(s.handleScanReceipt))
	s.mux.HandleFunc("DELETE /api/expenses/{id}", s.requireAuth(s.handleDeleteExpense))
	s.mux.HandleFunc("GET /api/expenses", s.requireAuth(s.handleListExpenses))
	s.mux.HandleFunc("POST /api/expenses", s.requireAuth(s.handleCreateExpense))
	s.mux.HandleFunc("POST /api/categorize", s.requireAuth(s.handleCategorize))

	// Clients
	s.mux.HandleFunc("PATCH /api/clients/{id}", s.requireAuth(s.handleUpdateClient))
	s.mux.HandleFunc("DELETE /api/clients/{id}", s.requireAuth(s.handleDeleteClient))
	s.mux.HandleFunc("GET /api/clients", s.requireAuth(s.handleListClients))
	s.mux.HandleFunc("POST /api/clients", s.requireAuth(s.handleCreateClient))

	// Invoices
	s.mux.HandleFunc("POST /api/invoices/preview", s.requireAuth(s.handlePreviewInvoice))
	s.mux.HandleFunc("POST /api/invoices/send", s.requireAuth(s.handleSendInvoice))
	s.mux.HandleFunc("GET /api/invoices/{id}", s.requireAuth(s.handleGetInvoice))
	s.mux.HandleFunc("GET /api/invoices", s.requireAuth(s.handleListInvoices))
	s.mux.HandleFunc("POST /api/stripe/create-checkout", s.requireAuth(s.handleCreateCheckout))

	// Reports
	s.mux.HandleFunc("GET /api/reports/invoices.csv", s.requireAuth(s.handleInvoiceReport))
	s.mux.HandleFunc("GET /api/reports/tax-summary.csv", s.requireAuth(s.handleTaxSummary))
	s.mux.HandleFunc("GET /api/reports/clients.csv", s.requireAuth(s.handleClientStatements))
}

// Start serves HTTP until ctx is cancelled, then drains in-flight requests
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
