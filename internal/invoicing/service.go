package invoicing

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoiceflow/internal/categorizing"
	"github.com/zombor/invoiceflow/internal/document"
	"github.com/zombor/invoiceflow/internal/events"
	"github.com/zombor/invoiceflow/internal/mail"
	"github.com/zombor/invoiceflow/internal/payments"
	"github.com/zombor/invoiceflow/internal/scanning"
)

// IDGenerator generates unique record IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random (v4) UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Config holds the settings the service needs for links and messages
type Config struct {
	// BaseURL is the public URL of the app, used for checkout redirects and file links
	BaseURL string
	// ProPriceID is the default subscription price for the Pro plan
	ProPriceID string
	// Signature signs outgoing emails
	Signature string
}

// DefaultSignature signs emails when none is configured
const DefaultSignature = "InvoiceFlow AI"

// ServiceDeps are the collaborators of a Service. DB and Storage are
// required; everything else has a working default. A nil Mailer or
// Recognizer means that feature is not configured.
type ServiceDeps struct {
	DB          DB
	Storage     Storage
	Recognizer  scanning.Recognizer
	Categorizer categorizing.Categorizer
	Payments    payments.Gateway
	Mailer      mail.Mailer
	Publisher   events.Publisher
	Renderer    *document.Renderer
	IDGenerator IDGenerator
	TimeSource  TimeSource
}

// Service implements expenses, clients, invoices and the overdue sweep
type Service struct {
	db          DB
	storage     Storage
	recognizer  scanning.Recognizer
	categorizer categorizing.Categorizer
	payments    payments.Gateway
	mailer      mail.Mailer
	publisher   events.Publisher
	renderer    *document.Renderer
	idGenerator IDGenerator
	timeSource  TimeSource
	cfg         Config

	sweepMu sync.Mutex
}

// NewService creates a new Service, filling in defaults for optional deps
func NewService(cfg Config, deps ServiceDeps) *Service {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:3000"
	}
	if cfg.Signature == "" {
		cfg.Signature = DefaultSignature
	}

	s := &Service{
		db:          deps.DB,
		storage:     deps.Storage,
		recognizer:  deps.Recognizer,
		categorizer: deps.Categorizer,
		payments:    deps.Payments,
		mailer:      deps.Mailer,
		publisher:   deps.Publisher,
		renderer:    deps.Renderer,
		idGenerator: deps.IDGenerator,
		timeSource:  deps.TimeSource,
		cfg:         cfg,
	}
	if s.categorizer == nil {
		s.categorizer = categorizing.Static(categorizing.Other)
	}
	s.categorizer = categorizing.WithFallback(s.categorizer, categorizing.Other)
	if s.payments == nil {
		s.payments = payments.Disabled{}
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.renderer == nil {
		s.renderer = document.NewRenderer(document.DefaultBrand)
	}
	if s.idGenerator == nil {
		s.idGenerator = &uuidGenerator{}
	}
	if s.timeSource == nil {
		s.timeSource = &defaultTimeSource{}
	}
	return s
}

// fileURL is the public link for a storage key
func (s *Service) fileURL(key string) string {
	return s.cfg.BaseURL + "/files/" + key
}

// publish emits an event; failures are logged and never returned
func (s *Service) publish(ctx context.Context, topic, key string, event any) {
	if err := s.publisher.Publish(ctx, topic, key, event); err != nil {
		slog.Error("Failed to publish event", "topic", topic, "key", key, "error", err)
	}
}

// Categorize suggests a category for an expense description
func (s *Service) Categorize(ctx context.Context, text string) (categorizing.Category, error) {
	if strings.TrimSpace(text) == "" {
		return "", invalid("Missing or invalid 'text'")
	}
	return s.categorizer.Categorize(ctx, text)
}
