package invoicing

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	// Register the postgres driver
	_ "github.com/lib/pq"
	// Register the sqlite driver
	_ "modernc.org/sqlite"

	"github.com/zombor/invoiceflow/internal/categorizing"
	"github.com/zombor/invoiceflow/internal/money"
)

// SQLDB implements the DB interface on Postgres or SQLite
type SQLDB struct {
	conn   *sql.DB
	driver string
}

// OpenSQLDB opens a database from a URL. postgres:// and postgresql:// URLs
// use Postgres; sqlite:// URLs and bare file paths use SQLite.
func OpenSQLDB(databaseURL string) (*SQLDB, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return NewSQLDB("postgres", databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return NewSQLDB("sqlite", strings.TrimPrefix(databaseURL, "sqlite://"))
	default:
		return NewSQLDB("sqlite", databaseURL)
	}
}

// NewSQLDB opens a connection with the named driver and runs migrations
func NewSQLDB(driver, dsn string) (*SQLDB, error) {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", driver, err)
	}

	db := &SQLDB{conn: conn, driver: driver}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating %s database: %w", driver, err)
	}
	return db, nil
}

func (db *SQLDB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS expenses (
			id TEXT PRIMARY KEY,
			invoice_id TEXT NOT NULL DEFAULT '',
			merchant TEXT NOT NULL,
			amount TEXT NOT NULL,
			category TEXT NOT NULL,
			date TEXT NOT NULL,
			receipt_url TEXT,
			receipt_path TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			total_owed TEXT NOT NULL DEFAULT '0.00',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS invoices (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			status TEXT NOT NULL,
			due_date TEXT NOT NULL,
			pdf_url TEXT,
			pdf_path TEXT NOT NULL DEFAULT '',
			payment_url TEXT NOT NULL DEFAULT '',
			payment_session_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS invoices_status_due_date ON invoices (status, due_date)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres
func (db *SQLDB) rebind(query string) string {
	if db.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *SQLDB) exec(query string, args ...any) (sql.Result, error) {
	return db.conn.Exec(db.rebind(query), args...)
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// sqlTimeLayout is fixed width so timestamps sort as text
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqlTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqlTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("querying %s %s: %w", kind, id, err)
}

const expenseColumns = "id, invoice_id, merchant, amount, category, date, receipt_url, receipt_path, created_at"

func scanExpense(row scanner) (*Expense, error) {
	var (
		e          Expense
		category   string
		receiptURL sql.NullString
		createdAt  string
	)
	if err := row.Scan(&e.ID, &e.InvoiceID, &e.Merchant, &e.Amount, &category, &e.Date, &receiptURL, &e.ReceiptPath, &createdAt); err != nil {
		return nil, err
	}
	e.Category = categorizing.Category(category)
	e.ReceiptURL = stringPtr(receiptURL)
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// SaveExpense inserts or replaces an expense
func (db *SQLDB) SaveExpense(e *Expense) error {
	_, err := db.exec(`INSERT INTO expenses (`+expenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			invoice_id = excluded.invoice_id,
			merchant = excluded.merchant,
			amount = excluded.amount,
			category = excluded.category,
			date = excluded.date,
			receipt_url = excluded.receipt_url,
			receipt_path = excluded.receipt_path`,
		e.ID, e.InvoiceID, e.Merchant, e.Amount, string(e.Category), e.Date, nullString(e.ReceiptURL), e.ReceiptPath, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving expense: %w", err)
	}
	return nil
}

// GetExpense retrieves an expense by ID
func (db *SQLDB) GetExpense(id string) (*Expense, error) {
	row := db.conn.QueryRow(db.rebind("SELECT "+expenseColumns+" FROM expenses WHERE id = ?"), id)
	e, err := scanExpense(row)
	if err != nil {
		return nil, notFound("expense", id, err)
	}
	return e, nil
}

// ListExpenses returns all expenses, newest date first
func (db *SQLDB) ListExpenses() ([]*Expense, error) {
	rows, err := db.conn.Query("SELECT " + expenseColumns + " FROM expenses ORDER BY date DESC")
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	defer rows.Close()

	expenses := make([]*Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// DeleteExpense removes an expense
func (db *SQLDB) DeleteExpense(id string) error {
	if _, err := db.exec("DELETE FROM expenses WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	return nil
}

const clientColumns = "id, name, email, total_owed, created_at"

func scanClient(row scanner) (*Client, error) {
	var (
		c         Client
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.TotalOwed, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveClient inserts or replaces a client
func (db *SQLDB) SaveClient(c *Client) error {
	_, err := db.exec(`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			total_owed = excluded.total_owed`,
		c.ID, c.Name, c.Email, c.TotalOwed, formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID
func (db *SQLDB) GetClient(id string) (*Client, error) {
	row := db.conn.QueryRow(db.rebind("SELECT "+clientColumns+" FROM clients WHERE id = ?"), id)
	c, err := scanClient(row)
	if err != nil {
		return nil, notFound("client", id, err)
	}
	return c, nil
}

// ListClients returns all clients ordered by name
func (db *SQLDB) ListClients() ([]*Client, error) {
	rows, err := db.conn.Query("SELECT " + clientColumns + " FROM clients ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	defer rows.Close()

	clients := make([]*Client, 0)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// DeleteClient removes a client
func (db *SQLDB) DeleteClient(id string) error {
	if _, err := db.exec("DELETE FROM clients WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting client: %w", err)
	}
	return nil
}

// UpdateClientOwed reads and rewrites total_owed inside one transaction
func (db *SQLDB) UpdateClientOwed(id string, fn func(money.Amount) money.Amount) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	query := "SELECT total_owed FROM clients WHERE id = ?"
	if db.driver == "postgres" {
		query += " FOR UPDATE"
	}
	var owed money.Amount
	if err := tx.QueryRow(db.rebind(query), id).Scan(&owed); err != nil {
		return notFound("client", id, err)
	}

	if _, err := tx.Exec(db.rebind("UPDATE clients SET total_owed = ? WHERE id = ?"), fn(owed), id); err != nil {
		return fmt.Errorf("updating total owed: %w", err)
	}
	return tx.Commit()
}

// UpdateClientContact changes name and email without rewriting total owed
func (db *SQLDB) UpdateClientContact(id string, name, email *string) (*Client, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(db.rebind("UPDATE clients SET name = COALESCE(?, name), email = COALESCE(?, email) WHERE id = ?"),
		nullString(name), nullString(email), id)
	if err != nil {
		return nil, fmt.Errorf("updating client: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, notFound("client", id, sql.ErrNoRows)
	}

	client, err := scanClient(tx.QueryRow(db.rebind("SELECT "+clientColumns+" FROM clients WHERE id = ?"), id))
	if err != nil {
		return nil, notFound("client", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing client update: %w", err)
	}
	return client, nil
}

const invoiceColumns = "id, client_id, amount, status, due_date, pdf_url, pdf_path, payment_url, payment_session_id, created_at, updated_at"

func scanInvoice(row scanner) (*Invoice, error) {
	var (
		inv                  Invoice
		status               string
		pdfURL               sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&inv.ID, &inv.ClientID, &inv.Amount, &status, &inv.DueDate, &pdfURL, &inv.PDFPath, &inv.PaymentURL, &inv.PaymentSessionID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	inv.Status = Status(status)
	inv.PDFURL = stringPtr(pdfURL)
	var err error
	if inv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if inv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &inv, nil
}

// SaveInvoice inserts or replaces an invoice
func (db *SQLDB) SaveInvoice(inv *Invoice) error {
	_, err := db.exec(`INSERT INTO invoices (`+invoiceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			client_id = excluded.client_id,
			amount = excluded.amount,
			status = excluded.status,
			due_date = excluded.due_date,
			pdf_url = excluded.pdf_url,
			pdf_path = excluded.pdf_path,
			payment_url = excluded.payment_url,
			payment_session_id = excluded.payment_session_id,
			updated_at = excluded.updated_at`,
		inv.ID, inv.ClientID, inv.Amount, string(inv.Status), inv.DueDate, nullString(inv.PDFURL), inv.PDFPath,
		inv.PaymentURL, inv.PaymentSessionID, formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving invoice: %w", err)
	}
	return nil
}

// GetInvoice retrieves an invoice by ID
func (db *SQLDB) GetInvoice(id string) (*Invoice, error) {
	row := db.conn.QueryRow(db.rebind("SELECT "+invoiceColumns+" FROM invoices WHERE id = ?"), id)
	inv, err := scanInvoice(row)
	if err != nil {
		return nil, notFound("invoice", id, err)
	}
	return inv, nil
}

// ListInvoices returns all invoices, newest first
func (db *SQLDB) ListInvoices() ([]*Invoice, error) {
	rows, err := db.conn.Query("SELECT " + invoiceColumns + " FROM invoices ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	defer rows.Close()

	invoices := make([]*Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// TransitionInvoiceStatus is a conditional UPDATE; only one caller can move
// an invoice out of a given status.
func (db *SQLDB) TransitionInvoiceStatus(id string, to Status, at time.Time, from ...Status) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{string(to), formatTime(at), id}
	for _, s := range from {
		args = append(args, string(s))
	}

	res, err := db.exec("UPDATE invoices SET status = ?, updated_at = ? WHERE id = ? AND status IN ("+placeholders+")", args...)
	if err != nil {
		return false, fmt.Errorf("updating invoice status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking updated rows: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	// Nothing moved: distinguish a missing invoice from a lost race
	if _, err := db.GetInvoice(id); err != nil {
		return false, err
	}
	return false, nil
}

// Close closes the database connection
func (db *SQLDB) Close() error {
	return db.conn.Close()
}
