package core

import (
	"errors"
	"sort"
	"strings"
	"time"
)

const (
	// KindCharge increases what the customer owes ("adição").
	KindCharge TransactionKind = "charge"
	// KindPayment decreases what the customer owes ("pagamento").
	KindPayment TransactionKind = "payment"
)

type (
	TransactionKind string

	// Date is a calendar day. The embedded time is always midnight UTC so
	// comparisons are date-only.
	Date struct {
		time.Time
	}

	// Transaction is one ledger entry. Amount and Description may change
	// via an edit; Kind and OccurredAt never do.
	Transaction struct {
		ID          string
		OccurredAt  time.Time
		Amount      Money
		Kind        TransactionKind
		Description string
	}

	// Customer carries the three aggregate balances alongside the owned
	// transaction log. Aggregates are maintained by the ledger engine;
	// they are not recomputed from the log on every read.
	Customer struct {
		ID           string
		Name         string
		Phone        string
		TotalBilled  Money
		Pending      Money
		Settled      Money
		DueDate      Date // zero means no due date set
		CreatedAt    time.Time
		Transactions []Transaction
	}
)

var (
	ErrEmptyName           = errors.New("empty customer name")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrNothingPending is an informational outcome, not a failure: a
	// payment was requested against a fully settled balance and nothing
	// was recorded. Callers must not present it as an error.
	ErrNothingPending = errors.New("nothing pending")
)

func (k TransactionKind) Validate() error {
	switch k {
	case KindCharge, KindPayment:
		return nil
	}
	return errors.New("unknown transaction kind: " + string(k))
}

// NewDate builds a Date at midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// Today returns the current calendar day.
func Today() Date { return DateOf(time.Now()) }

// IsEmpty reports whether no date was set.
func (d Date) IsEmpty() bool { return d.IsZero() }

// DaysUntil returns the whole days from d to other (negative if other is
// in the past relative to d).
func (d Date) DaysUntil(other Date) int {
	return int(other.Sub(d.Time).Hours() / 24)
}

func (c Customer) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if len(c.Name) > 120 {
		return errors.New("customer name too long (max 120 characters)")
	}
	return nil
}

// FindTransaction returns the index of the transaction with the given id,
// or -1.
func (c *Customer) FindTransaction(id string) int {
	for i := range c.Transactions {
		if c.Transactions[i].ID == id {
			return i
		}
	}
	return -1
}

// TransactionsNewestFirst returns a copy of the log in display order.
// Storage order is unspecified; display is newest-first by OccurredAt.
func (c *Customer) TransactionsNewestFirst() []Transaction {
	out := append([]Transaction(nil), c.Transactions...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return out
}

// MatchesName reports whether the customer's name contains the filter,
// case-insensitively. An empty filter matches everyone.
func (c *Customer) MatchesName(filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.Name), strings.ToLower(filter))
}
