package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/invoiceflow/internal/categorizing"
	"github.com/zombor/invoiceflow/internal/document"
	"github.com/zombor/invoiceflow/internal/events"
	"github.com/zombor/invoiceflow/internal/invoicing"
	"github.com/zombor/invoiceflow/internal/mail"
	"github.com/zombor/invoiceflow/internal/payments"
	"github.com/zombor/invoiceflow/internal/scanning"
)

// config holds the flags shared by every subcommand
type config struct {
	envFile     *string
	logLevel    *string
	dbPath      *string
	databaseURL *string
	storagePath *string
	baseURL     *string
	brandName   *string
	signature   *string

	recognizer    *string
	geminiKey     *string
	geminiModel   *string
	ollamaURL     *string
	ollamaModel   *string
	azureEndpoint *string
	azureKey      *string

	categorizer      *string
	categorizerModel *string
	ollamaTextModel  *string

	stripeKey           *string
	stripeWebhookSecret *string
	stripeProPrice      *string

	resendKey    *string
	emailFrom    *string
	kafkaBrokers *string
}

func registerConfig(fs *ff.FlagSet) *config {
	return &config{
		envFile:     fs.StringLong("env-file", ".env", "Optional dotenv file loaded before flags are parsed"),
		logLevel:    fs.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		dbPath:      fs.StringLong("db", "invoiceflow.db", "BoltDB file path (ignored when --database-url is set)"),
		databaseURL: fs.StringLong("database-url", "", "postgres:// or sqlite:// URL for a SQL record store (or set DATABASE_URL env var)"),
		storagePath: fs.StringLong("storage", "./files", "Storage directory for receipts and invoice PDFs"),
		baseURL:     fs.StringLong("base-url", "http://localhost:3000", "Public URL of the app, used for links and payment redirects"),
		brandName:   fs.StringLong("brand-name", document.DefaultBrand.Name, "Name printed in the invoice header"),
		signature:   fs.StringLong("signature", invoicing.DefaultSignature, "Sign-off used in outgoing emails"),

		recognizer:    fs.StringLong("recognizer", "gemini", "Receipt OCR backend: 'gemini', 'ollama', 'azure' or 'none'"),
		geminiKey:     fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel:   fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name"),
		ollamaURL:     fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel:   fs.StringLong("ollama-model", "llava", "Ollama vision model name (e.g., llava, qwen2-vl, llama3.2-vision)"),
		azureEndpoint: fs.StringLong("azure-endpoint", "", "Azure Computer Vision endpoint"),
		azureKey:      fs.StringLong("azure-key", "", "Azure Computer Vision key"),

		categorizer:      fs.StringLong("categorizer", "gemini", "Expense categorizer: 'gemini', 'ollama' or 'none'"),
		categorizerModel: fs.StringLong("categorizer-model", "gemini-2.5-flash", "Gemini model used for categorization"),
		ollamaTextModel:  fs.StringLong("ollama-text-model", "llama3.2", "Ollama chat model used for categorization"),

		stripeKey:           fs.StringLong("stripe-key", "", "Stripe secret key (or set STRIPE_SECRET_KEY env var)"),
		stripeWebhookSecret: fs.StringLong("stripe-webhook-secret", "", "Stripe webhook signing secret (or set STRIPE_WEBHOOK_SECRET env var)"),
		stripeProPrice:      fs.StringLong("stripe-pro-price", "", "Stripe price ID for the Pro subscription"),

		resendKey:    fs.StringLong("resend-key", "", "Resend API key (or set RESEND_API_KEY env var)"),
		emailFrom:    fs.StringLong("email-from", mail.DefaultFrom, "Sender address for outgoing email"),
		kafkaBrokers: fs.StringLong("kafka-brokers", "", "Comma separated Kafka brokers for domain events (optional)"),
	}
}

// app owns the constructed service and everything that needs closing
type app struct {
	service *invoicing.Service
	closers []io.Closer
}

func (a *app) Close() error {
	// Reverse order: the database goes last
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("Error closing resource", "error", err)
		}
	}
	return nil
}

func newApp(cfg *config) (*app, error) {
	a := &app{}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	// Initialize database
	slog.Info("Initializing database...")
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db)

	// Initialize storage
	slog.Info("Initializing storage...", "path", *cfg.storagePath)
	store, err := invoicing.NewLocalStorage(*cfg.storagePath)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	recognizer, err := newRecognizer(cfg)
	if err != nil {
		return nil, err
	}
	if recognizer != nil {
		a.closers = append(a.closers, recognizer)
	}

	categorizer, err := newCategorizer(cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := categorizer.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	deps := invoicing.ServiceDeps{
		DB:          db,
		Storage:     store,
		Recognizer:  recognizer,
		Categorizer: categorizer,
		Renderer:    document.NewRenderer(document.Brand{Name: *cfg.brandName, Tagline: document.DefaultBrand.Tagline}),
	}
	if key := firstNonEmpty(*cfg.stripeKey, os.Getenv("STRIPE_SECRET_KEY")); key != "" {
		gateway, err := payments.NewStripe(key, firstNonEmpty(*cfg.stripeWebhookSecret, os.Getenv("STRIPE_WEBHOOK_SECRET")))
		if err != nil {
			return nil, fmt.Errorf("initializing stripe: %w", err)
		}
		deps.Payments = gateway
		slog.Info("Stripe payments enabled")
	} else {
		slog.Warn("No Stripe key configured; invoices cannot be sent")
	}

	if key := firstNonEmpty(*cfg.resendKey, os.Getenv("RESEND_API_KEY")); key != "" {
		mailer, err := mail.NewResend(key, *cfg.emailFrom)
		if err != nil {
			return nil, fmt.Errorf("initializing resend: %w", err)
		}
		deps.Mailer = mailer
		slog.Info("Email delivery enabled", "from", *cfg.emailFrom)
	} else {
		slog.Warn("No Resend key configured; invoices will not be emailed")
	}

	if brokers := splitList(*cfg.kafkaBrokers); len(brokers) > 0 {
		publisher, err := events.NewKafka(brokers)
		if err != nil {
			return nil, fmt.Errorf("initializing kafka: %w", err)
		}
		deps.Publisher = publisher
		a.closers = append(a.closers, publisher)
		slog.Info("Publishing domain events to Kafka", "brokers", brokers)
	}

	a.service = invoicing.NewService(invoicing.Config{
		BaseURL:    *cfg.baseURL,
		ProPriceID: *cfg.stripeProPrice,
		Signature:  *cfg.signature,
	}, deps)
	built = true
	return a, nil
}

func openDB(cfg *config) (invoicing.DB, error) {
	if url := firstNonEmpty(*cfg.databaseURL, os.Getenv("DATABASE_URL")); url != "" {
		db, err := invoicing.OpenSQLDB(url)
		if err != nil {
			return nil, fmt.Errorf("initializing sql database: %w", err)
		}
		return db, nil
	}
	db, err := invoicing.NewBoltDB(*cfg.dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	return db, nil
}

// newRecognizer returns nil when receipt scanning is off
func newRecognizer(cfg *config) (scanning.Recognizer, error) {
	switch *cfg.recognizer {
	case "gemini":
		apiKey := firstNonEmpty(*cfg.geminiKey, os.Getenv("GEMINI_API_KEY"))
		if apiKey == "" {
			slog.Warn("No Gemini API key; receipt scanning disabled. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			return nil, nil
		}
		slog.Info("Initializing Gemini recognizer...", "model", *cfg.geminiModel)
		r, err := scanning.NewGemini(apiKey, *cfg.geminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return r, nil
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *cfg.ollamaURL, "model", *cfg.ollamaModel)
		r, err := scanning.NewOllama(*cfg.ollamaURL, *cfg.ollamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
		return r, nil
	case "azure":
		slog.Info("Initializing Azure recognizer...", "endpoint", *cfg.azureEndpoint)
		r, err := scanning.NewAzure(*cfg.azureEndpoint, *cfg.azureKey)
		if err != nil {
			return nil, fmt.Errorf("initializing azure: %w", err)
		}
		return r, nil
	case "none":
		slog.Info("Receipt scanning disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid recognizer %q: valid values are gemini, ollama, azure or none", *cfg.recognizer)
	}
}

func newCategorizer(cfg *config) (categorizing.Categorizer, error) {
	switch *cfg.categorizer {
	case "gemini":
		apiKey := firstNonEmpty(*cfg.geminiKey, os.Getenv("GEMINI_API_KEY"))
		if apiKey == "" {
			slog.Warn("No Gemini API key; every expense is categorized as Other")
			return categorizing.Static(categorizing.Other), nil
		}
		c, err := categorizing.NewGemini(apiKey, *cfg.categorizerModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini categorizer: %w", err)
		}
		return c, nil
	case "ollama":
		return categorizing.NewOllama(*cfg.ollamaURL, *cfg.ollamaTextModel), nil
	case "none":
		return categorizing.Static(categorizing.Other), nil
	default:
		return nil, fmt.Errorf("invalid categorizer %q: valid values are gemini, ollama or none", *cfg.categorizer)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
