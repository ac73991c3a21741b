package memory

import (
	"context"
	"testing"
	"time"

	"lufashion/internal/core"
	ports "lufashion/internal/export"
)

func TestStoreAppend(t *testing.T) {
	s := New()

	ref, err := s.Append(context.Background(), ports.Row{
		OccurredAt:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		CustomerName: "Maria",
		Kind:         core.KindCharge,
		Amount:       core.Money{Cents: 12345},
	})
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}

	rows := s.Rows()
	if len(rows) != 1 || rows[0].CustomerName != "Maria" {
		t.Fatalf("unexpected rows: %+v", rows)
	}

	// The returned slice is a copy.
	rows[0].CustomerName = "changed"
	if s.Rows()[0].CustomerName != "Maria" {
		t.Error("Rows() exposed internal state")
	}
}
