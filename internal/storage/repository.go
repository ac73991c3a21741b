// Package storage persists the ledger in SQLite. The full customer book is
// small enough to load in one pass at startup; after that the repository only
// receives deltas.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"lufashion/internal/core"

	_ "modernc.org/sqlite"
)

// Transaction kinds as stored on disk. The database keeps the Portuguese
// names the business uses; core uses neutral identifiers.
const (
	dbKindCharge  = "adicao"
	dbKindPayment = "pagamento"
)

const dateLayout = "2006-01-02"

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// LoadCustomers implements ledger.Store. Transactions come back in insertion
// order per customer.
func (r *SQLiteRepository) LoadCustomers(ctx context.Context) ([]*core.Customer, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, phone, due_date, total_billed_cents, pending_cents, settled_cents, created_at
		FROM customers
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*core.Customer)
	var customers []*core.Customer
	for rows.Next() {
		var (
			c         core.Customer
			dueDate   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &dueDate,
			&c.TotalBilled.Cents, &c.Pending.Cents, &c.Settled.Cents, &createdAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at for customer %s: %w", c.ID, err)
		}
		if dueDate.Valid {
			t, err := time.Parse(dateLayout, dueDate.String)
			if err != nil {
				return nil, fmt.Errorf("parse due_date for customer %s: %w", c.ID, err)
			}
			c.DueDate = core.DateOf(t)
		}
		cc := c
		byID[cc.ID] = &cc
		customers = append(customers, &cc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customers: %w", err)
	}

	txRows, err := r.db.QueryContext(ctx, `
		SELECT id, customer_id, kind, amount_cents, description, occurred_at
		FROM transactions
		ORDER BY occurred_at`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer txRows.Close()

	for txRows.Next() {
		var (
			tx         core.Transaction
			customerID string
			kind       string
			occurredAt string
		)
		if err := txRows.Scan(&tx.ID, &customerID, &kind, &tx.Amount.Cents, &tx.Description, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Kind, err = kindFromDB(kind)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", tx.ID, err)
		}
		tx.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at for transaction %s: %w", tx.ID, err)
		}
		c, ok := byID[customerID]
		if !ok {
			slog.WarnContext(ctx, "Transaction references unknown customer",
				"transaction_id", tx.ID,
				"customer_id", customerID)
			continue
		}
		c.Transactions = append(c.Transactions, tx)
	}
	if err := txRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	slog.InfoContext(ctx, "Customers loaded from SQLite", "count", len(customers))
	return customers, nil
}

// SaveCustomer upserts the customer row, balances included. Transactions are
// written separately.
func (r *SQLiteRepository) SaveCustomer(ctx context.Context, c *core.Customer) error {
	var dueDate any
	if !c.DueDate.IsEmpty() {
		dueDate = c.DueDate.Format(dateLayout)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, due_date, total_billed_cents, pending_cents, settled_cents, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			due_date = excluded.due_date,
			total_billed_cents = excluded.total_billed_cents,
			pending_cents = excluded.pending_cents,
			settled_cents = excluded.settled_cents`,
		c.ID, c.Name, c.Phone, dueDate,
		c.TotalBilled.Cents, c.Pending.Cents, c.Settled.Cents,
		c.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save customer %s: %w", c.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteCustomer(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete customer %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrCustomerNotFound
	}
	return nil
}

func (r *SQLiteRepository) SaveTransaction(ctx context.Context, customerID string, tx core.Transaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, customer_id, kind, amount_cents, description, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tx.ID, customerID, kindToDB(tx.Kind), tx.Amount.Cents, tx.Description,
		tx.OccurredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save transaction %s: %w", tx.ID, err)
	}
	return nil
}

// UpdateTransaction rewrites amount and description only. Kind and timestamp
// never change after recording.
func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, customerID string, tx core.Transaction) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET amount_cents = ?, description = ?, synced_at = NULL, sync_error = ''
		WHERE id = ? AND customer_id = ?`,
		tx.Amount.Cents, tx.Description, tx.ID, customerID)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrTransactionNotFound
	}
	return nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, customerID, txID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND customer_id = ?`, txID, customerID)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", txID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrTransactionNotFound
	}
	return nil
}

// GetCustomer returns the customer row without its transactions.
func (r *SQLiteRepository) GetCustomer(ctx context.Context, id string) (*core.Customer, error) {
	var (
		c         core.Customer
		dueDate   sql.NullString
		createdAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, phone, due_date, total_billed_cents, pending_cents, settled_cents, created_at
		FROM customers WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Phone, &dueDate,
			&c.TotalBilled.Cents, &c.Pending.Cents, &c.Settled.Cents, &createdAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", id, err)
	}
	c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for customer %s: %w", id, err)
	}
	if dueDate.Valid {
		t, err := time.Parse(dateLayout, dueDate.String)
		if err != nil {
			return nil, fmt.Errorf("parse due_date for customer %s: %w", id, err)
		}
		c.DueDate = core.DateOf(t)
	}
	return &c, nil
}

// ExportRow joins a transaction with its customer for the backup book.
type ExportRow struct {
	Transaction  core.Transaction
	CustomerName string
	Pending      core.Money
}

func (r *SQLiteRepository) GetExportRow(ctx context.Context, customerID, txID string) (ExportRow, error) {
	var (
		row        ExportRow
		kind       string
		occurredAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT t.id, t.kind, t.amount_cents, t.description, t.occurred_at, c.name, c.pending_cents
		FROM transactions t JOIN customers c ON c.id = t.customer_id
		WHERE t.id = ? AND t.customer_id = ?`, txID, customerID).
		Scan(&row.Transaction.ID, &kind, &row.Transaction.Amount.Cents,
			&row.Transaction.Description, &occurredAt, &row.CustomerName, &row.Pending.Cents)
	if err == sql.ErrNoRows {
		return ExportRow{}, core.ErrTransactionNotFound
	}
	if err != nil {
		return ExportRow{}, fmt.Errorf("get export row for %s: %w", txID, err)
	}
	row.Transaction.Kind, err = kindFromDB(kind)
	if err != nil {
		return ExportRow{}, fmt.Errorf("transaction %s: %w", txID, err)
	}
	row.Transaction.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt)
	if err != nil {
		return ExportRow{}, fmt.Errorf("parse occurred_at for transaction %s: %w", txID, err)
	}
	return row, nil
}

// PendingExportTransaction is the minimal row handed to the export queue.
type PendingExportTransaction struct {
	TransactionID string
	CustomerID    string
	OccurredAt    time.Time
}

// GetPendingExportTransactions returns transactions not yet copied to the
// backup book, oldest first.
func (r *SQLiteRepository) GetPendingExportTransactions(ctx context.Context, limit int) ([]PendingExportTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, customer_id, occurred_at
		FROM transactions
		WHERE synced_at IS NULL
		ORDER BY occurred_at
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending export transactions: %w", err)
	}
	defer rows.Close()

	var pending []PendingExportTransaction
	for rows.Next() {
		var (
			p          PendingExportTransaction
			occurredAt string
		)
		if err := rows.Scan(&p.TransactionID, &p.CustomerID, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan pending export transaction: %w", err)
		}
		p.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// MarkExported marks a transaction as copied to the backup book.
func (r *SQLiteRepository) MarkExported(ctx context.Context, txID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET synced_at = ?, sync_error = '' WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), txID)
	if err != nil {
		return fmt.Errorf("mark transaction exported: %w", err)
	}
	slog.InfoContext(ctx, "Transaction marked as exported", "transaction_id", txID)
	return nil
}

// MarkExportError records the failure so the row is retried on the next scan.
func (r *SQLiteRepository) MarkExportError(ctx context.Context, txID string, cause error) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET sync_error = ? WHERE id = ?`,
		cause.Error(), txID)
	if err != nil {
		return fmt.Errorf("mark transaction export error: %w", err)
	}
	slog.WarnContext(ctx, "Transaction marked with export error",
		"transaction_id", txID,
		"cause", cause)
	return nil
}

// GetLastNotifiedAt returns when the customer last received an overdue
// notice, or the zero time if never.
func (r *SQLiteRepository) GetLastNotifiedAt(ctx context.Context, customerID string) (time.Time, error) {
	var notified sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT last_notified_at FROM customers WHERE id = ?`, customerID).Scan(&notified)
	if err == sql.ErrNoRows {
		return time.Time{}, core.ErrCustomerNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last_notified_at for %s: %w", customerID, err)
	}
	if !notified.Valid {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, notified.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last_notified_at for %s: %w", customerID, err)
	}
	return t, nil
}

// MarkNotified records that an overdue notice went out now.
func (r *SQLiteRepository) MarkNotified(ctx context.Context, customerID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE customers SET last_notified_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), customerID)
	if err != nil {
		return fmt.Errorf("mark customer notified: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrCustomerNotFound
	}
	return nil
}

func kindToDB(k core.TransactionKind) string {
	if k == core.KindPayment {
		return dbKindPayment
	}
	return dbKindCharge
}

func kindFromDB(s string) (core.TransactionKind, error) {
	switch s {
	case dbKindCharge:
		return core.KindCharge, nil
	case dbKindPayment:
		return core.KindPayment, nil
	default:
		return "", fmt.Errorf("unknown transaction kind %q", s)
	}
}
