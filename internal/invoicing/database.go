package invoicing

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/invoiceflow/internal/money"
)

const (
	expenseBucketName = "expenses"
	clientBucketName  = "clients"
	invoiceBucketName = "invoices"
)

// DB defines the interface for record storage
type DB interface {
	// SaveExpense creates or replaces an expense
	SaveExpense(expense *Expense) error

	// GetExpense retrieves an expense by ID
	GetExpense(id string) (*Expense, error)

	// ListExpenses returns all expenses
	ListExpenses() ([]*Expense, error)

	// DeleteExpense removes an expense
	DeleteExpense(id string) error

	// SaveClient creates or replaces a client
	SaveClient(client *Client) error

	// GetClient retrieves a client by ID
	GetClient(id string) (*Client, error)

	// ListClients returns all clients
	ListClients() ([]*Client, error)

	// DeleteClient removes a client. Invoices that reference it are kept.
	DeleteClient(id string) error

	// UpdateClientOwed replaces a client's total owed with fn(current) atomically
	UpdateClientOwed(id string, fn func(money.Amount) money.Amount) error

	// UpdateClientContact sets the non-nil name and email fields and returns
	// the updated client. Total owed is left untouched.
	UpdateClientContact(id string, name, email *string) (*Client, error)

	// SaveInvoice creates or replaces an invoice
	SaveInvoice(invoice *Invoice) error

	// GetInvoice retrieves an invoice by ID
	GetInvoice(id string) (*Invoice, error)

	// ListInvoices returns all invoices
	ListInvoices() ([]*Invoice, error)

	// TransitionInvoiceStatus moves an invoice to status `to` only if its
	// current status is one of from. It reports whether the move happened.
	TransitionInvoiceStatus(id string, to Status, at time.Time, from ...Status) (bool, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{expenseBucketName, clientBucketName, invoiceBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func put(tx *bbolt.Tx, bucket, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s record: %w", bucket, err)
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(id), data)
}

func get[T any](tx *bbolt.Tx, bucket, id string) (*T, error) {
	data := tx.Bucket([]byte(bucket)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%s %s: %w", bucket, id, ErrNotFound)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshaling %s record: %w", bucket, err)
	}
	return &v, nil
}

func list[T any](tx *bbolt.Tx, bucket string) ([]*T, error) {
	records := make([]*T, 0)
	err := tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
		var record T
		if err := json.Unmarshal(v, &record); err != nil {
			return fmt.Errorf("unmarshaling %s record: %w", bucket, err)
		}
		records = append(records, &record)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (b *BoltDB) save(bucket, id string, v any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, bucket, id, v)
	})
}

func (b *BoltDB) delete(bucket, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete([]byte(id))
	})
}

func viewOne[T any](b *BoltDB, bucket, id string) (*T, error) {
	var record *T
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		record, err = get[T](tx, bucket, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func viewAll[T any](b *BoltDB, bucket string) ([]*T, error) {
	var records []*T
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		records, err = list[T](tx, bucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SaveExpense saves an expense to the database
func (b *BoltDB) SaveExpense(expense *Expense) error {
	return b.save(expenseBucketName, expense.ID, expense)
}

// GetExpense retrieves an expense by ID
func (b *BoltDB) GetExpense(id string) (*Expense, error) {
	return viewOne[Expense](b, expenseBucketName, id)
}

// ListExpenses returns all expenses
func (b *BoltDB) ListExpenses() ([]*Expense, error) {
	return viewAll[Expense](b, expenseBucketName)
}

// DeleteExpense removes an expense from the database
func (b *BoltDB) DeleteExpense(id string) error {
	return b.delete(expenseBucketName, id)
}

// SaveClient saves a client to the database
func (b *BoltDB) SaveClient(client *Client) error {
	return b.save(clientBucketName, client.ID, client)
}

// GetClient retrieves a client by ID
func (b *BoltDB) GetClient(id string) (*Client, error) {
	return viewOne[Client](b, clientBucketName, id)
}

// ListClients returns all clients
func (b *BoltDB) ListClients() ([]*Client, error) {
	return viewAll[Client](b, clientBucketName)
}

// DeleteClient removes a client from the database
func (b *BoltDB) DeleteClient(id string) error {
	return b.delete(clientBucketName, id)
}

// UpdateClientOwed applies fn to the client's total owed in one transaction
func (b *BoltDB) UpdateClientOwed(id string, fn func(money.Amount) money.Amount) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		client, err := get[Client](tx, clientBucketName, id)
		if err != nil {
			return err
		}
		client.TotalOwed = fn(client.TotalOwed)
		return put(tx, clientBucketName, id, client)
	})
}

// UpdateClientContact changes name and email in one transaction
func (b *BoltDB) UpdateClientContact(id string, name, email *string) (*Client, error) {
	var client *Client
	err := b.db.Update(func(tx *bbolt.Tx) error {
		var err error
		client, err = get[Client](tx, clientBucketName, id)
		if err != nil {
			return err
		}
		if name != nil {
			client.Name = *name
		}
		if email != nil {
			client.Email = *email
		}
		return put(tx, clientBucketName, id, client)
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// SaveInvoice saves an invoice to the database
func (b *BoltDB) SaveInvoice(invoice *Invoice) error {
	return b.save(invoiceBucketName, invoice.ID, invoice)
}

// GetInvoice retrieves an invoice by ID
func (b *BoltDB) GetInvoice(id string) (*Invoice, error) {
	return viewOne[Invoice](b, invoiceBucketName, id)
}

// ListInvoices returns all invoices
func (b *BoltDB) ListInvoices() ([]*Invoice, error) {
	return viewAll[Invoice](b, invoiceBucketName)
}

// TransitionInvoiceStatus is a compare-and-set on the invoice status.
// bbolt serializes write transactions, so concurrent callers cannot both win.
func (b *BoltDB) TransitionInvoiceStatus(id string, to Status, at time.Time, from ...Status) (bool, error) {
	moved := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		invoice, err := get[Invoice](tx, invoiceBucketName, id)
		if err != nil {
			return err
		}
		if !slices.Contains(from, invoice.Status) {
			return nil
		}
		invoice.Status = to
		invoice.UpdatedAt = at
		moved = true
		return put(tx, invoiceBucketName, id, invoice)
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
