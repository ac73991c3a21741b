// Package export copies ledger transactions into an external backup book.
package export

import (
	"context"
	"time"

	"lufashion/internal/core"
)

// Row is one transaction as it appears in the backup book.
type Row struct {
	OccurredAt   time.Time
	CustomerName string
	Kind         core.TransactionKind
	Amount       core.Money
	Description  string
	PendingAfter core.Money
}

// TransactionAppender is the outbound port for the backup book.
type TransactionAppender interface {
	Append(ctx context.Context, row Row) (rowRef string, err error)
}
