package invoicing

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zombor/invoiceflow/internal/categorizing"
	"github.com/zombor/invoiceflow/internal/mail"
	"github.com/zombor/invoiceflow/internal/money"
	"github.com/zombor/invoiceflow/internal/payments"
	"github.com/zombor/invoiceflow/internal/scanning"
)

// mockDB is an in-memory implementation of DB
type mockDB struct {
	mu       sync.Mutex
	expenses map[string]*Expense
	clients  map[string]*Client
	invoices map[string]*Invoice

	saveExpenseErr error
	saveClientErr  error
	saveInvoiceErr error
	listErr        error
	deleteErr      error
	transitionErr  error
	// claimed lets a test simulate another process winning the claim
	claimed map[string]bool
}

func newMockDB() *mockDB {
	return &mockDB{
		expenses: make(map[string]*Expense),
		clients:  make(map[string]*Client),
		invoices: make(map[string]*Invoice),
		claimed:  make(map[string]bool),
	}
}

func notFoundErr(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

func (m *mockDB) SaveExpense(expense *Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveExpenseErr != nil {
		return m.saveExpenseErr
	}
	e := *expense
	m.expenses[expense.ID] = &e
	return nil
}

func (m *mockDB) GetExpense(id string) (*Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.expenses[id]
	if !ok {
		return nil, notFoundErr("expense", id)
	}
	c := *e
	return &c, nil
}

func (m *mockDB) ListExpenses() ([]*Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	expenses := make([]*Expense, 0, len(m.expenses))
	for _, e := range m.expenses {
		c := *e
		expenses = append(expenses, &c)
	}
	return expenses, nil
}

func (m *mockDB) DeleteExpense(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.expenses, id)
	return nil
}

func (m *mockDB) SaveClient(client *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveClientErr != nil {
		return m.saveClientErr
	}
	c := *client
	m.clients[client.ID] = &c
	return nil
}

func (m *mockDB) GetClient(id string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, notFoundErr("client", id)
	}
	cp := *c
	return &cp, nil
}

func (m *mockDB) ListClients() ([]*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		cp := *c
		clients = append(clients, &cp)
	}
	return clients, nil
}

func (m *mockDB) DeleteClient(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.clients, id)
	return nil
}

func (m *mockDB) UpdateClientOwed(id string, fn func(money.Amount) money.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return notFoundErr("client", id)
	}
	c.TotalOwed = fn(c.TotalOwed)
	return nil
}

func (m *mockDB) UpdateClientContact(id string, name, email *string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveClientErr != nil {
		return nil, m.saveClientErr
	}
	c, ok := m.clients[id]
	if !ok {
		return nil, notFoundErr("client", id)
	}
	if name != nil {
		c.Name = *name
	}
	if email != nil {
		c.Email = *email
	}
	out := *c
	return &out, nil
}

func (m *mockDB) SaveInvoice(invoice *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveInvoiceErr != nil {
		return m.saveInvoiceErr
	}
	inv := *invoice
	m.invoices[invoice.ID] = &inv
	return nil
}

func (m *mockDB) GetInvoice(id string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, notFoundErr("invoice", id)
	}
	c := *inv
	return &c, nil
}

func (m *mockDB) ListInvoices() ([]*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	invoices := make([]*Invoice, 0, len(m.invoices))
	for _, inv := range m.invoices {
		c := *inv
		invoices = append(invoices, &c)
	}
	return invoices, nil
}

func (m *mockDB) TransitionInvoiceStatus(id string, to Status, at time.Time, from ...Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionErr != nil {
		return false, m.transitionErr
	}
	inv, ok := m.invoices[id]
	if !ok {
		return false, notFoundErr("invoice", id)
	}
	if m.claimed[id] || !slices.Contains(from, inv.Status) {
		return false, nil
	}
	inv.Status = to
	inv.UpdatedAt = at
	return true, nil
}

func (m *mockDB) Close() error {
	return nil
}

// mockStorage is an in-memory implementation of Storage
type mockStorage struct {
	files     map[string][]byte
	saveErr   error
	deleteErr error
	deleted   []string
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		files: make(map[string][]byte),
	}
}

func (m *mockStorage) Save(key string, data []byte) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.files[key] = data
	return nil
}

func (m *mockStorage) Get(key string) ([]byte, error) {
	data, ok := m.files[key]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", key, ErrNotFound)
	}
	return data, nil
}

func (m *mockStorage) Delete(key string) error {
	m.deleted = append(m.deleted, key)
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.files, key)
	return nil
}

// mockRecognizer returns canned text
type mockRecognizer struct {
	text        string
	err         error
	contentType string
	progress    []float64
}

func (m *mockRecognizer) Recognize(ctx context.Context, data []byte, contentType string, progress scanning.ProgressFunc) (string, error) {
	m.contentType = contentType
	if m.err != nil {
		return "", m.err
	}
	for _, f := range []float64{0, 0.5, 1} {
		m.progress = append(m.progress, f)
		if progress != nil {
			progress(f)
		}
	}
	return m.text, nil
}

func (m *mockRecognizer) Close() error {
	return nil
}

// mockCategorizer answers a fixed category
type mockCategorizer struct {
	category categorizing.Category
	err      error
}

func (m *mockCategorizer) Categorize(ctx context.Context, text string) (categorizing.Category, error) {
	return m.category, m.err
}

// mockGateway records checkout sessions
type mockGateway struct {
	mu        sync.Mutex
	requests  []payments.CheckoutRequest
	expired   []string
	createErr error
	event     *payments.WebhookEvent
	parseErr  error
	priceIDs  []string
}

func (m *mockGateway) CreateCheckout(ctx context.Context, req payments.CheckoutRequest) (*payments.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.requests = append(m.requests, req)
	n := len(m.requests)
	return &payments.Session{
		ID:  fmt.Sprintf("cs_test_%d", n),
		URL: fmt.Sprintf("https://checkout.test/cs_test_%d", n),
	}, nil
}

func (m *mockGateway) CreateSubscriptionCheckout(ctx context.Context, priceID, successURL, cancelURL string) (*payments.Session, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.priceIDs = append(m.priceIDs, priceID)
	return &payments.Session{ID: "cs_sub", URL: "https://checkout.test/sub/" + priceID}, nil
}

func (m *mockGateway) ExpireCheckout(ctx context.Context, sessionID string) error {
	m.expired = append(m.expired, sessionID)
	return nil
}

func (m *mockGateway) ParseWebhook(payload []byte, signature string) (*payments.WebhookEvent, error) {
	if m.parseErr != nil {
		return nil, m.parseErr
	}
	return m.event, nil
}

func (m *mockGateway) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// mockMailer records messages
type mockMailer struct {
	mu       sync.Mutex
	messages []*mail.Message
	err      error
}

func (m *mockMailer) Send(ctx context.Context, msg *mail.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("email-%d", len(m.messages)), nil
}

func (m *mockMailer) sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// published is one recorded event
type published struct {
	topic string
	key   string
	event any
}

// mockPublisher records events
type mockPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, key string, event any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, published{topic: topic, key: key, event: event})
	return m.err
}

func (m *mockPublisher) Close() error {
	return nil
}

func (m *mockPublisher) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]string, 0, len(m.events))
	for _, e := range m.events {
		topics = append(topics, e.topic)
	}
	return topics
}

// mockIDGenerator hands out IDs in order, then numbered fallbacks
type mockIDGenerator struct {
	ids []string
	n   int
}

func (m *mockIDGenerator) Generate() string {
	m.n++
	if len(m.ids) > 0 {
		id := m.ids[0]
		m.ids = m.ids[1:]
		return id
	}
	return fmt.Sprintf("generated-id-%04d", m.n)
}

// mockTimeSource is a fixed clock
type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

// fixture bundles a Service with its mocks
type fixture struct {
	db         *mockDB
	storage    *mockStorage
	recognizer *mockRecognizer
	gateway    *mockGateway
	mailer     *mockMailer
	publisher  *mockPublisher
	ids        *mockIDGenerator
	clock      *mockTimeSource
	service    *Service
}

var fixedNow = time.Date(2024, 3, 20, 15, 4, 5, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		db:         newMockDB(),
		storage:    newMockStorage(),
		recognizer: &mockRecognizer{},
		gateway:    &mockGateway{},
		mailer:     &mockMailer{},
		publisher:  &mockPublisher{},
		ids:        &mockIDGenerator{},
		clock:      &mockTimeSource{now: fixedNow},
	}
	f.build()
	return f
}

// build (re)creates the service, e.g. after a test swaps a mock out
func (f *fixture) build(mutators ...func(*ServiceDeps)) {
	deps := ServiceDeps{
		DB:          f.db,
		Storage:     f.storage,
		Recognizer:  f.recognizer,
		Categorizer: &mockCategorizer{category: categorizing.Software},
		Payments:    f.gateway,
		Mailer:      f.mailer,
		Publisher:   f.publisher,
		IDGenerator: f.ids,
		TimeSource:  f.clock,
	}
	for _, m := range mutators {
		m(&deps)
	}
	f.service = NewService(Config{BaseURL: "https://app.test/"}, deps)
}
