package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lufashion/internal/amqp"
	"lufashion/internal/core"
	"lufashion/internal/notify"
)

// NoticeStore is the slice of the repository the notify worker needs.
type NoticeStore interface {
	LoadCustomers(ctx context.Context) ([]*core.Customer, error)
	GetCustomer(ctx context.Context, id string) (*core.Customer, error)
	GetLastNotifiedAt(ctx context.Context, id string) (time.Time, error)
	MarkNotified(ctx context.Context, id string, at time.Time) error
}

type NoticePublisher interface {
	PublishOverdueNotice(ctx context.Context, customerID string, daysOverdue int) error
}

// NotifyWorker finds overdue customers and sends them WhatsApp reminders.
// Scanning and sending are decoupled through the queue so a slow gateway
// never stalls the scan.
type NotifyWorker struct {
	store      NoticeStore
	publisher  NoticePublisher
	sender     notify.Sender
	classifier core.Classifier

	now func() time.Time
}

func NewNotifyWorker(store NoticeStore, publisher NoticePublisher, sender notify.Sender, classifier core.Classifier) *NotifyWorker {
	return &NotifyWorker{
		store:      store,
		publisher:  publisher,
		sender:     sender,
		classifier: classifier,
		now:        time.Now,
	}
}

// ScanOverdue publishes one notice per overdue customer, at most once per
// day per customer.
func (w *NotifyWorker) ScanOverdue(ctx context.Context) error {
	customers, err := w.store.LoadCustomers(ctx)
	if err != nil {
		return fmt.Errorf("load customers: %w", err)
	}

	today := core.DateOf(w.now())
	overdue := w.classifier.Overdue(customers, today)
	if len(overdue) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Overdue scan", "overdue", len(overdue), "total", len(customers))

	for _, c := range overdue {
		lastNotified, err := w.store.GetLastNotifiedAt(ctx, c.ID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to read last notified time",
				"customer_id", c.ID, "error", err)
			continue
		}
		if sameDay(lastNotified, w.now()) {
			continue
		}

		days := w.classifier.DaysOverdue(c, today)
		if err := w.publisher.PublishOverdueNotice(ctx, c.ID, days); err != nil {
			slog.ErrorContext(ctx, "Failed to publish overdue notice",
				"customer_id", c.ID, "error", err)
			continue
		}
	}
	return nil
}

// RunScanLoop scans immediately and then on every tick until ctx is done.
func (w *NotifyWorker) RunScanLoop(ctx context.Context, interval time.Duration) error {
	if err := w.ScanOverdue(ctx); err != nil {
		slog.ErrorContext(ctx, "Initial overdue scan failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.ScanOverdue(ctx); err != nil {
				slog.ErrorContext(ctx, "Overdue scan failed", "error", err)
			}
		}
	}
}

// HandleNoticeMessage sends the reminder for one customer and records it.
func (w *NotifyWorker) HandleNoticeMessage(ctx context.Context, msg *amqp.OverdueNoticeMessage) error {
	c, err := w.store.GetCustomer(ctx, msg.CustomerID)
	if err != nil {
		if err == core.ErrCustomerNotFound {
			// Customer removed between scan and delivery. Drop the notice.
			slog.WarnContext(ctx, "Notice for removed customer dropped",
				"customer_id", msg.CustomerID)
			return nil
		}
		return fmt.Errorf("get customer: %w", err)
	}

	// Re-check against today; the debt may have been settled while the
	// message sat in the queue.
	if w.classifier.Classify(c, core.DateOf(w.now())) != core.StatusOverdue {
		slog.InfoContext(ctx, "Customer no longer overdue, notice skipped",
			"customer_id", c.ID)
		return nil
	}

	err = w.sender.SendOverdueNotice(ctx, notify.Notice{
		CustomerName: c.Name,
		Phone:        c.Phone,
		DueDate:      c.DueDate,
		TotalBilled:  c.TotalBilled,
		Pending:      c.Pending,
	})
	if err != nil {
		return fmt.Errorf("send notice: %w", err)
	}

	if err := w.store.MarkNotified(ctx, c.ID, w.now()); err != nil {
		slog.ErrorContext(ctx, "Failed to mark customer notified",
			"customer_id", c.ID, "error", err)
		// Don't return an error here, the notice itself went out.
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
