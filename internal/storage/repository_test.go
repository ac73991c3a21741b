package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"lufashion/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testCustomer(id string) *core.Customer {
	return &core.Customer{
		ID:          id,
		Name:        "Maria",
		Phone:       "77999990000",
		TotalBilled: core.Money{Cents: 20000},
		Pending:     core.Money{Cents: 15000},
		Settled:     core.Money{Cents: 5000},
		DueDate:     core.NewDate(2025, int(time.March), 10),
		CreatedAt:   time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC),
	}
}

func TestSaveAndLoadCustomer(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := testCustomer("c1")
	if err := repo.SaveCustomer(ctx, c); err != nil {
		t.Fatalf("SaveCustomer: %v", err)
	}
	tx := core.Transaction{
		ID:          "t1",
		OccurredAt:  time.Date(2025, 1, 2, 15, 4, 6, 0, time.UTC),
		Amount:      core.Money{Cents: 20000},
		Kind:        core.KindCharge,
		Description: "Nota inicial",
	}
	if err := repo.SaveTransaction(ctx, c.ID, tx); err != nil {
		t.Fatalf("SaveTransaction: %v", err)
	}

	loaded, err := repo.LoadCustomers(ctx)
	if err != nil {
		t.Fatalf("LoadCustomers: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d customers, want 1", len(loaded))
	}
	got := loaded[0]
	if got.Name != c.Name || got.Phone != c.Phone {
		t.Errorf("customer = %s/%s, want %s/%s", got.Name, got.Phone, c.Name, c.Phone)
	}
	if got.Pending.Cents != 15000 || got.Settled.Cents != 5000 {
		t.Errorf("balances = %d/%d", got.Pending.Cents, got.Settled.Cents)
	}
	if got.DueDate.IsEmpty() || got.DueDate.Format("2006-01-02") != "2025-03-10" {
		t.Errorf("due date = %v", got.DueDate)
	}
	if len(got.Transactions) != 1 {
		t.Fatalf("transactions = %d, want 1", len(got.Transactions))
	}
	if ltx := got.Transactions[0]; ltx.Kind != core.KindCharge || ltx.Amount.Cents != 20000 || ltx.Description != "Nota inicial" {
		t.Errorf("transaction = %+v", ltx)
	}
}

func TestSaveCustomerUpserts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := testCustomer("c1")
	if err := repo.SaveCustomer(ctx, c); err != nil {
		t.Fatalf("first save: %v", err)
	}
	c.Name = "Maria Clara"
	c.Pending = core.Money{Cents: 0}
	c.Settled = core.Money{Cents: 20000}
	if err := repo.SaveCustomer(ctx, c); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := repo.LoadCustomers(ctx)
	if err != nil {
		t.Fatalf("LoadCustomers: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d customers, want 1 after upsert", len(loaded))
	}
	if loaded[0].Name != "Maria Clara" || loaded[0].Pending.Cents != 0 {
		t.Errorf("upsert not applied: %s pending=%d", loaded[0].Name, loaded[0].Pending.Cents)
	}
}

func TestNoDueDateRoundTrips(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := testCustomer("c1")
	c.DueDate = core.Date{}
	if err := repo.SaveCustomer(ctx, c); err != nil {
		t.Fatalf("SaveCustomer: %v", err)
	}
	loaded, err := repo.LoadCustomers(ctx)
	if err != nil {
		t.Fatalf("LoadCustomers: %v", err)
	}
	if !loaded[0].DueDate.IsEmpty() {
		t.Errorf("due date = %v, want empty", loaded[0].DueDate)
	}
}

func TestDeleteCustomerCascadesTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := testCustomer("c1")
	if err := repo.SaveCustomer(ctx, c); err != nil {
		t.Fatalf("SaveCustomer: %v", err)
	}
	tx := core.Transaction{ID: "t1", OccurredAt: time.Now().UTC(), Amount: core.Money{Cents: 100}, Kind: core.KindPayment}
	if err := repo.SaveTransaction(ctx, c.ID, tx); err != nil {
		t.Fatalf("SaveTransaction: %v", err)
	}

	if err := repo.DeleteCustomer(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCustomer: %v", err)
	}

	loaded, err := repo.LoadCustomers(ctx)
	if err != nil {
		t.Fatalf("LoadCustomers: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("loaded %d customers, want 0", len(loaded))
	}
	pending, err := repo.GetPendingExportTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingExportTransactions: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("orphan transactions survived the cascade: %d", len(pending))
	}
}

func TestDeleteMissingRows(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.DeleteCustomer(ctx, "nope"); !errors.Is(err, core.ErrCustomerNotFound) {
		t.Errorf("DeleteCustomer: %v, want ErrCustomerNotFound", err)
	}
	if err := repo.DeleteTransaction(ctx, "nope", "nope"); !errors.Is(err, core.ErrTransactionNotFound) {
		t.Errorf("DeleteTransaction: %v, want ErrTransactionNotFound", err)
	}
}

func TestUpdateTransaction(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := testCustomer("c1")
	if err := repo.SaveCustomer(ctx, c); err != nil {
		t.Fatalf("SaveCustomer: %v", err)
	}
	tx := core.Transaction{ID: "t1", OccurredAt: time.Now().UTC(), Amount: core.Money{Cents: 100}, Kind: core.KindCharge, Description: "old"}
	if err := repo.SaveTransaction(ctx, c.ID, tx); err != nil {
		t.Fatalf("SaveTransaction: %v", err)
	}
	if err := repo.MarkExported(ctx, tx.ID); err != nil {
		t.Fatalf("MarkExported: %v", err)
	}

	tx.Amount = core.Money{Cents: 250}
	tx.Description = "new"
	if err := repo.UpdateTransaction(ctx, c.ID, tx); err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}

	loaded, err := repo.LoadCustomers(ctx)
	if err != nil {
		t.Fatalf("LoadCustomers: %v", err)
	}
	got := loaded[0].Transactions[0]
	if got.Amount.Cents != 250 || got.Description != "new" {
		t.Errorf("transaction = %+v", got)
	}

	// An edited transaction goes back on the export queue.
	pending, err := repo.GetPendingExportTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingExportTransactions: %v", err)
	}
	if len(pending) != 1 || pending[0].TransactionID != "t1" {
		t.Errorf("pending = %+v, want t1 requeued", pending)
	}
}

func TestExportBookkeeping(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := testCustomer("c1")
	if err := repo.SaveCustomer(ctx, c); err != nil {
		t.Fatalf("SaveCustomer: %v", err)
	}
	base := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"t1", "t2", "t3"} {
		tx := core.Transaction{ID: id, OccurredAt: base.Add(time.Duration(i) * time.Hour), Amount: core.Money{Cents: 100}, Kind: core.KindCharge}
		if err := repo.SaveTransaction(ctx, c.ID, tx); err != nil {
			t.Fatalf("SaveTransaction %s: %v", id, err)
		}
	}

	pending, err := repo.GetPendingExportTransactions(ctx, 2)
	if err != nil {
		t.Fatalf("GetPendingExportTransactions: %v", err)
	}
	if len(pending) != 2 || pending[0].TransactionID != "t1" || pending[1].TransactionID != "t2" {
		t.Fatalf("pending = %+v, want t1,t2 oldest first", pending)
	}

	if err := repo.MarkExported(ctx, "t1"); err != nil {
		t.Fatalf("MarkExported: %v", err)
	}
	if err := repo.MarkExportError(ctx, "t2", errors.New("quota exceeded")); err != nil {
		t.Fatalf("MarkExportError: %v", err)
	}

	pending, err = repo.GetPendingExportTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingExportTransactions: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending after mark = %d, want 2 (t2 retried, t3 untouched)", len(pending))
	}
}

func TestNotifiedTracking(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	c := testCustomer("c1")
	if err := repo.SaveCustomer(ctx, c); err != nil {
		t.Fatalf("SaveCustomer: %v", err)
	}

	got, err := repo.GetLastNotifiedAt(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetLastNotifiedAt: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("never-notified customer has timestamp %v", got)
	}

	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	if err := repo.MarkNotified(ctx, c.ID, at); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	got, err = repo.GetLastNotifiedAt(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetLastNotifiedAt: %v", err)
	}
	if !got.Equal(at) {
		t.Errorf("last notified = %v, want %v", got, at)
	}

	if _, err := repo.GetLastNotifiedAt(ctx, "nope"); !errors.Is(err, core.ErrCustomerNotFound) {
		t.Errorf("missing customer: %v", err)
	}
}
