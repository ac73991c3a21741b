// Package ledger implements the customer ledger engine: balance
// bookkeeping under charges and payments, retroactive correction on
// edit/removal, and the derived overdue and statistics views.
//
// State lives in memory and is authoritative. Durable writes are
// optimistic: a mutation is computed, the store write is attempted, and
// the mutation is committed locally whether or not the write succeeded.
// The Result reports persistence so callers can warn the user.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"lufashion/internal/core"
)

// OpeningChargeDescription is attached to the implicit charge created
// with every new customer.
const OpeningChargeDescription = "Nota inicial"

// ErrPersistenceUnavailable marks a failed durable write. It is reported
// through Result.PersistErr, never as the operation error: the local
// mutation stands and the store reconciles on the next full load.
var ErrPersistenceUnavailable = errors.New("persistence unavailable")

// Store is the durable collaborator. Implementations must tolerate
// upserts, since the ledger replays local state on reconnect.
type Store interface {
	LoadCustomers(ctx context.Context) ([]*core.Customer, error)
	SaveCustomer(ctx context.Context, c *core.Customer) error
	DeleteCustomer(ctx context.Context, id string) error
	SaveTransaction(ctx context.Context, customerID string, tx core.Transaction) error
	UpdateTransaction(ctx context.Context, customerID string, tx core.Transaction) error
	DeleteTransaction(ctx context.Context, customerID, txID string) error
}

// Publisher emits a message after a committed mutation so downstream
// consumers (spreadsheet backup, notifier) can react. May be nil.
type Publisher interface {
	PublishTransactionSync(ctx context.Context, customerID, txID string) error
}

// Result reports the outcome of a mutating operation.
type Result struct {
	CustomerID    string
	TransactionID string
	// Persisted is false when the durable write failed; PersistErr then
	// wraps ErrPersistenceUnavailable. The in-memory mutation was still
	// applied.
	Persisted  bool
	PersistErr error
}

type entry struct {
	mu sync.Mutex
	c  *core.Customer
}

// Ledger owns the in-memory customer set. Mutations against one customer
// are serialized by a per-customer lock; distinct customers proceed
// concurrently.
type Ledger struct {
	mu        sync.RWMutex
	customers map[string]*entry

	store      Store
	publisher  Publisher
	classifier core.Classifier
	now        func() time.Time
	newID      func() string
}

// New builds an empty ledger over the given store. publisher may be nil.
func New(store Store, publisher Publisher) *Ledger {
	return &Ledger{
		customers: make(map[string]*entry),
		store:     store,
		publisher: publisher,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Load replaces the in-memory set with the store's contents. Called at
// session start and on explicit refresh; mutations in between apply
// their deltas directly instead of re-reading.
func (l *Ledger) Load(ctx context.Context) error {
	customers, err := l.store.LoadCustomers(ctx)
	if err != nil {
		return fmt.Errorf("load customers: %w", err)
	}

	m := make(map[string]*entry, len(customers))
	for _, c := range customers {
		m[c.ID] = &entry{c: c}
	}

	l.mu.Lock()
	l.customers = m
	l.mu.Unlock()

	slog.InfoContext(ctx, "Ledger loaded", "customers", len(customers))
	return nil
}

// CreateCustomer registers a customer with an opening charge equal to the
// opening balance and optional due date and phone.
func (l *Ledger) CreateCustomer(ctx context.Context, name string, opening core.Money, phone string, dueDate core.Date) (Result, error) {
	if err := opening.Validate(); err != nil {
		return Result{}, err
	}

	now := l.now()
	c := &core.Customer{
		ID:          l.newID(),
		Name:        name,
		Phone:       phone,
		TotalBilled: opening,
		Pending:     opening,
		DueDate:     dueDate,
		CreatedAt:   now,
	}
	if err := c.Validate(); err != nil {
		return Result{}, err
	}

	tx := core.Transaction{
		ID:          l.newID(),
		OccurredAt:  now,
		Amount:      opening,
		Kind:        core.KindCharge,
		Description: OpeningChargeDescription,
	}
	c.Transactions = []core.Transaction{tx}

	res := Result{CustomerID: c.ID, TransactionID: tx.ID, Persisted: true}
	if err := l.persistCustomerAndTx(ctx, c, tx); err != nil {
		res.Persisted = false
		res.PersistErr = err
	}

	l.mu.Lock()
	l.customers[c.ID] = &entry{c: c}
	l.mu.Unlock()

	l.publishSync(ctx, c.ID, tx.ID)
	slog.InfoContext(ctx, "Customer created",
		"customer_id", c.ID,
		"name", c.Name,
		"opening_cents", opening.Cents,
		"persisted", res.Persisted)
	return res, nil
}

// RemoveCustomer deletes the customer and, by cascade, all its
// transactions.
func (l *Ledger) RemoveCustomer(ctx context.Context, id string) (Result, error) {
	l.mu.Lock()
	_, ok := l.customers[id]
	if ok {
		delete(l.customers, id)
	}
	l.mu.Unlock()
	if !ok {
		return Result{}, core.ErrCustomerNotFound
	}

	res := Result{CustomerID: id, Persisted: true}
	if err := l.store.DeleteCustomer(ctx, id); err != nil {
		res.Persisted = false
		res.PersistErr = fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
		slog.WarnContext(ctx, "Durable delete failed, customer removed locally",
			"customer_id", id, "error", err)
	}
	return res, nil
}

// RecordCharge appends a charge, raising both the total and the pending
// balance by the full amount.
func (l *Ledger) RecordCharge(ctx context.Context, customerID string, amount core.Money, description string) (Result, error) {
	if err := amount.Validate(); err != nil {
		return Result{}, err
	}

	e, err := l.entryFor(customerID)
	if err != nil {
		return Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx := core.Transaction{
		ID:          l.newID(),
		OccurredAt:  l.now(),
		Amount:      amount,
		Kind:        core.KindCharge,
		Description: description,
	}
	e.c.TotalBilled = e.c.TotalBilled.Add(amount)
	e.c.Pending = e.c.Pending.Add(amount)
	e.c.Transactions = append(e.c.Transactions, tx)

	res := l.persistMutation(ctx, e.c, tx, false)
	l.publishSync(ctx, customerID, tx.ID)
	slog.InfoContext(ctx, "Charge recorded",
		"customer_id", customerID,
		"transaction_id", tx.ID,
		"amount_cents", amount.Cents,
		"pending_cents", e.c.Pending.Cents)
	return res, nil
}

// RecordPayment appends a payment clamped to the pending balance. The
// stored amount is the effective amount, never the requested one. A
// fully settled balance yields ErrNothingPending and no transaction.
func (l *Ledger) RecordPayment(ctx context.Context, customerID string, amount core.Money, description string) (Result, error) {
	if err := amount.Validate(); err != nil {
		return Result{}, err
	}

	e, err := l.entryFor(customerID)
	if err != nil {
		return Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	effective := amount.Min(e.c.Pending)
	if effective.Cents <= 0 {
		return Result{}, core.ErrNothingPending
	}

	tx := core.Transaction{
		ID:          l.newID(),
		OccurredAt:  l.now(),
		Amount:      effective,
		Kind:        core.KindPayment,
		Description: description,
	}
	e.c.Pending = e.c.Pending.Sub(effective)
	e.c.Settled = e.c.Settled.Add(effective)
	e.c.Transactions = append(e.c.Transactions, tx)

	res := l.persistMutation(ctx, e.c, tx, false)
	l.publishSync(ctx, customerID, tx.ID)
	slog.InfoContext(ctx, "Payment recorded",
		"customer_id", customerID,
		"transaction_id", tx.ID,
		"requested_cents", amount.Cents,
		"effective_cents", effective.Cents,
		"pending_cents", e.c.Pending.Cents)
	return res, nil
}

// EditTransaction updates a transaction's amount and, when non-nil, its
// description. Kind and timestamp never change. Aggregates are corrected
// by the delta; no clamping is applied on either kind, so editing a
// charge below what was already collected can drive the pending balance
// negative. That inconsistency is allowed to surface (see RemoveTransaction).
func (l *Ledger) EditTransaction(ctx context.Context, customerID, txID string, newAmount core.Money, newDescription *string) (Result, error) {
	if err := newAmount.Validate(); err != nil {
		return Result{}, err
	}

	e, err := l.entryFor(customerID)
	if err != nil {
		return Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.c.FindTransaction(txID)
	if i < 0 {
		return Result{}, core.ErrTransactionNotFound
	}
	tx := &e.c.Transactions[i]

	desc := tx.Description
	if newDescription != nil {
		desc = *newDescription
	}
	delta := newAmount.Sub(tx.Amount)
	if delta.Cents == 0 && desc == tx.Description {
		return Result{CustomerID: customerID, TransactionID: txID, Persisted: true}, nil
	}

	switch tx.Kind {
	case core.KindCharge:
		e.c.TotalBilled = e.c.TotalBilled.Add(delta)
		e.c.Pending = e.c.Pending.Add(delta)
	case core.KindPayment:
		e.c.Pending = e.c.Pending.Sub(delta)
		e.c.Settled = e.c.Settled.Add(delta)
	}
	tx.Amount = newAmount
	tx.Description = desc

	if e.c.Pending.Cents < 0 {
		slog.WarnContext(ctx, "Pending balance went negative after edit",
			"customer_id", customerID,
			"transaction_id", txID,
			"pending_cents", e.c.Pending.Cents)
	}

	res := l.persistMutation(ctx, e.c, *tx, true)
	l.publishSync(ctx, customerID, txID)
	slog.InfoContext(ctx, "Transaction edited",
		"customer_id", customerID,
		"transaction_id", txID,
		"delta_cents", delta.Cents)
	return res, nil
}

// RemoveTransaction deletes a transaction and reverses its original
// contribution. No clamping: removing a charge whose value was already
// collected can leave negative balances, which callers should treat as a
// data-integrity signal rather than silently correct.
func (l *Ledger) RemoveTransaction(ctx context.Context, customerID, txID string) (Result, error) {
	e, err := l.entryFor(customerID)
	if err != nil {
		return Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.c.FindTransaction(txID)
	if i < 0 {
		return Result{}, core.ErrTransactionNotFound
	}
	tx := e.c.Transactions[i]

	switch tx.Kind {
	case core.KindCharge:
		e.c.TotalBilled = e.c.TotalBilled.Sub(tx.Amount)
		e.c.Pending = e.c.Pending.Sub(tx.Amount)
	case core.KindPayment:
		e.c.Pending = e.c.Pending.Add(tx.Amount)
		e.c.Settled = e.c.Settled.Sub(tx.Amount)
	}
	e.c.Transactions = append(e.c.Transactions[:i], e.c.Transactions[i+1:]...)

	if e.c.Pending.Cents < 0 || e.c.Settled.Cents < 0 {
		slog.WarnContext(ctx, "Negative balance after transaction removal",
			"customer_id", customerID,
			"transaction_id", txID,
			"pending_cents", e.c.Pending.Cents,
			"settled_cents", e.c.Settled.Cents)
	}

	res := Result{CustomerID: customerID, TransactionID: txID, Persisted: true}
	if err := l.store.DeleteTransaction(ctx, customerID, txID); err == nil {
		err = l.store.SaveCustomer(ctx, e.c)
		if err != nil {
			res.Persisted = false
			res.PersistErr = fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
		}
	} else {
		res.Persisted = false
		res.PersistErr = fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	if !res.Persisted {
		slog.WarnContext(ctx, "Durable write failed, removal kept locally",
			"customer_id", customerID, "transaction_id", txID, "error", res.PersistErr)
	}

	slog.InfoContext(ctx, "Transaction removed",
		"customer_id", customerID,
		"transaction_id", txID,
		"kind", string(tx.Kind),
		"amount_cents", tx.Amount.Cents)
	return res, nil
}

// RenameCustomer updates the display name.
func (l *Ledger) RenameCustomer(ctx context.Context, id, name string) (Result, error) {
	return l.updateProfile(ctx, id, func(c *core.Customer) error {
		prev := c.Name
		c.Name = name
		if err := c.Validate(); err != nil {
			c.Name = prev
			return err
		}
		return nil
	})
}

// SetPhone updates the contact phone. An empty value clears it.
func (l *Ledger) SetPhone(ctx context.Context, id, phone string) (Result, error) {
	return l.updateProfile(ctx, id, func(c *core.Customer) error {
		c.Phone = phone
		return nil
	})
}

// SetDueDate sets or, with a zero date, clears the due date.
func (l *Ledger) SetDueDate(ctx context.Context, id string, due core.Date) (Result, error) {
	return l.updateProfile(ctx, id, func(c *core.Customer) error {
		c.DueDate = due
		return nil
	})
}

// GetCustomerByID returns a snapshot of the customer, including a copy
// of the transaction log.
func (l *Ledger) GetCustomerByID(id string) (*core.Customer, error) {
	e, err := l.entryFor(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.c), nil
}

// ListCustomers returns snapshots of every customer whose name matches
// the filter (case-insensitive substring; empty matches all), newest
// first.
func (l *Ledger) ListCustomers(filter string) []*core.Customer {
	all := l.snapshotAll()
	out := all[:0]
	for _, c := range all {
		if c.MatchesName(filter) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ListOverdue returns the overdue customers, oldest due date first.
func (l *Ledger) ListOverdue() []*core.Customer {
	return l.classifier.Overdue(l.snapshotAll(), core.DateOf(l.now()))
}

// ListDueSoon returns customers whose due date falls inside the due-soon
// window, regardless of balance.
func (l *Ledger) ListDueSoon() []*core.Customer {
	return l.classifier.DueSoon(l.snapshotAll(), core.DateOf(l.now()))
}

// DaysOverdue exposes the display value for a customer snapshot.
func (l *Ledger) DaysOverdue(c *core.Customer) int {
	return l.classifier.DaysOverdue(c, core.DateOf(l.now()))
}

// Stats folds the whole customer set into store-wide totals.
func (l *Ledger) Stats() core.AggregateStats {
	return core.Aggregate(l.snapshotAll())
}

func (l *Ledger) entryFor(id string) (*entry, error) {
	l.mu.RLock()
	e, ok := l.customers[id]
	l.mu.RUnlock()
	if !ok {
		return nil, core.ErrCustomerNotFound
	}
	return e, nil
}

func (l *Ledger) snapshotAll() []*core.Customer {
	l.mu.RLock()
	entries := make([]*entry, 0, len(l.customers))
	for _, e := range l.customers {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	out := make([]*core.Customer, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, snapshot(e.c))
		e.mu.Unlock()
	}
	return out
}

func (l *Ledger) updateProfile(ctx context.Context, id string, apply func(*core.Customer) error) (Result, error) {
	e, err := l.entryFor(id)
	if err != nil {
		return Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := apply(e.c); err != nil {
		return Result{}, err
	}

	res := Result{CustomerID: id, Persisted: true}
	if err := l.store.SaveCustomer(ctx, e.c); err != nil {
		res.Persisted = false
		res.PersistErr = fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
		slog.WarnContext(ctx, "Durable write failed, profile change kept locally",
			"customer_id", id, "error", err)
	}
	return res, nil
}

// persistMutation writes the transaction and the updated aggregates.
// Failures are folded into the Result, never into the error return.
func (l *Ledger) persistMutation(ctx context.Context, c *core.Customer, tx core.Transaction, isUpdate bool) Result {
	res := Result{CustomerID: c.ID, TransactionID: tx.ID, Persisted: true}

	var err error
	if isUpdate {
		err = l.store.UpdateTransaction(ctx, c.ID, tx)
	} else {
		err = l.store.SaveTransaction(ctx, c.ID, tx)
	}
	if err == nil {
		err = l.store.SaveCustomer(ctx, c)
	}
	if err != nil {
		res.Persisted = false
		res.PersistErr = fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
		slog.WarnContext(ctx, "Durable write failed, mutation kept locally",
			"customer_id", c.ID,
			"transaction_id", tx.ID,
			"error", err)
	}
	return res
}

func (l *Ledger) persistCustomerAndTx(ctx context.Context, c *core.Customer, tx core.Transaction) error {
	if err := l.store.SaveCustomer(ctx, c); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	if err := l.store.SaveTransaction(ctx, c.ID, tx); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
	return nil
}

func (l *Ledger) publishSync(ctx context.Context, customerID, txID string) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishTransactionSync(ctx, customerID, txID); err != nil {
		// Mutation already committed; delivery is backed up by the
		// worker's periodic pending scan.
		slog.WarnContext(ctx, "Failed to publish sync message",
			"customer_id", customerID,
			"transaction_id", txID,
			"error", err)
	}
}

func snapshot(c *core.Customer) *core.Customer {
	cp := *c
	cp.Transactions = append([]core.Transaction(nil), c.Transactions...)
	return &cp
}
