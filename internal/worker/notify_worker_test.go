package worker

import (
	"context"
	"testing"
	"time"

	"lufashion/internal/amqp"
	"lufashion/internal/core"
	"lufashion/internal/notify"
)

type fakeNoticeStore struct {
	customers map[string]*core.Customer
	notified  map[string]time.Time
}

func newFakeNoticeStore(customers ...*core.Customer) *fakeNoticeStore {
	s := &fakeNoticeStore{
		customers: map[string]*core.Customer{},
		notified:  map[string]time.Time{},
	}
	for _, c := range customers {
		s.customers[c.ID] = c
	}
	return s
}

func (s *fakeNoticeStore) LoadCustomers(context.Context) ([]*core.Customer, error) {
	var out []*core.Customer
	for _, c := range s.customers {
		out = append(out, c)
	}
	return out, nil
}

func (s *fakeNoticeStore) GetCustomer(_ context.Context, id string) (*core.Customer, error) {
	c, ok := s.customers[id]
	if !ok {
		return nil, core.ErrCustomerNotFound
	}
	return c, nil
}

func (s *fakeNoticeStore) GetLastNotifiedAt(_ context.Context, id string) (time.Time, error) {
	return s.notified[id], nil
}

func (s *fakeNoticeStore) MarkNotified(_ context.Context, id string, at time.Time) error {
	s.notified[id] = at
	return nil
}

type fakePublisher struct {
	published []string
}

func (p *fakePublisher) PublishOverdueNotice(_ context.Context, customerID string, _ int) error {
	p.published = append(p.published, customerID)
	return nil
}

type fakeSender struct {
	sent []notify.Notice
}

func (s *fakeSender) SendOverdueNotice(_ context.Context, n notify.Notice) error {
	s.sent = append(s.sent, n)
	return nil
}

func overdueCustomer(id string) *core.Customer {
	yesterday := core.DateOf(time.Now().AddDate(0, 0, -1))
	return &core.Customer{
		ID:      id,
		Name:    "Maria",
		Phone:   "77988887777",
		Pending: core.Money{Cents: 15000},
		DueDate: yesterday,
	}
}

func TestScanOverduePublishesOncePerDay(t *testing.T) {
	store := newFakeNoticeStore(overdueCustomer("c1"))
	pub := &fakePublisher{}
	w := NewNotifyWorker(store, pub, &fakeSender{}, core.Classifier{})

	if err := w.ScanOverdue(context.Background()); err != nil {
		t.Fatalf("ScanOverdue: %v", err)
	}
	if len(pub.published) != 1 || pub.published[0] != "c1" {
		t.Fatalf("published = %v", pub.published)
	}

	// Simulate the notice going out, then rescan the same day.
	store.notified["c1"] = time.Now()
	if err := w.ScanOverdue(context.Background()); err != nil {
		t.Fatalf("second ScanOverdue: %v", err)
	}
	if len(pub.published) != 1 {
		t.Errorf("published = %v, want no repeat on the same day", pub.published)
	}
}

func TestScanOverdueSkipsSettledCustomers(t *testing.T) {
	settled := overdueCustomer("c2")
	settled.Pending = core.Money{}
	store := newFakeNoticeStore(settled)
	pub := &fakePublisher{}
	w := NewNotifyWorker(store, pub, &fakeSender{}, core.Classifier{})

	if err := w.ScanOverdue(context.Background()); err != nil {
		t.Fatalf("ScanOverdue: %v", err)
	}
	if len(pub.published) != 0 {
		t.Errorf("published = %v, want none for settled customer", pub.published)
	}
}

func TestHandleNoticeMessage(t *testing.T) {
	store := newFakeNoticeStore(overdueCustomer("c1"))
	sender := &fakeSender{}
	w := NewNotifyWorker(store, &fakePublisher{}, sender, core.Classifier{})

	err := w.HandleNoticeMessage(context.Background(), &amqp.OverdueNoticeMessage{CustomerID: "c1", DaysOverdue: 1})
	if err != nil {
		t.Fatalf("HandleNoticeMessage: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].CustomerName != "Maria" {
		t.Fatalf("sent = %+v", sender.sent)
	}
	if store.notified["c1"].IsZero() {
		t.Error("customer not marked notified")
	}
}

func TestHandleNoticeMessageStaleDebt(t *testing.T) {
	// Debt settled while the message sat in the queue.
	c := overdueCustomer("c1")
	c.Pending = core.Money{}
	store := newFakeNoticeStore(c)
	sender := &fakeSender{}
	w := NewNotifyWorker(store, &fakePublisher{}, sender, core.Classifier{})

	err := w.HandleNoticeMessage(context.Background(), &amqp.OverdueNoticeMessage{CustomerID: "c1"})
	if err != nil {
		t.Fatalf("HandleNoticeMessage: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent = %+v, want none for settled debt", sender.sent)
	}
}

func TestHandleNoticeMessageRemovedCustomer(t *testing.T) {
	w := NewNotifyWorker(newFakeNoticeStore(), &fakePublisher{}, &fakeSender{}, core.Classifier{})

	// Removed customers are dropped, not requeued.
	err := w.HandleNoticeMessage(context.Background(), &amqp.OverdueNoticeMessage{CustomerID: "ghost"})
	if err != nil {
		t.Errorf("HandleNoticeMessage = %v, want nil", err)
	}
}
