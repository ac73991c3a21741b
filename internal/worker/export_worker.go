// Package worker runs the background jobs: copying transactions to the
// backup book and sending overdue notices.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"lufashion/internal/amqp"
	"lufashion/internal/export"
	"lufashion/internal/storage"
)

// ExportStore is the slice of the repository the export worker needs.
type ExportStore interface {
	GetExportRow(ctx context.Context, customerID, txID string) (storage.ExportRow, error)
	GetPendingExportTransactions(ctx context.Context, limit int) ([]storage.PendingExportTransaction, error)
	MarkExported(ctx context.Context, txID string) error
	MarkExportError(ctx context.Context, txID string, cause error) error
}

// ExportWorker copies ledger transactions into the backup book.
type ExportWorker struct {
	store     ExportStore
	book      export.TransactionAppender
	batchSize int
}

func NewExportWorker(store ExportStore, book export.TransactionAppender, batchSize int) *ExportWorker {
	return &ExportWorker{
		store:     store,
		book:      book,
		batchSize: batchSize,
	}
}

// HandleSyncMessage processes a single transaction sync message from AMQP.
func (w *ExportWorker) HandleSyncMessage(ctx context.Context, msg *amqp.TransactionSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"customer_id", msg.CustomerID,
		"transaction_id", msg.TransactionID)

	return w.exportOne(ctx, msg.CustomerID, msg.TransactionID)
}

// ProcessPending exports transactions that never made it through the queue.
// This is a backup mechanism in case AMQP messages are lost.
func (w *ExportWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.store.GetPendingExportTransactions(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending exports", "count", len(pending))

	for _, p := range pending {
		if err := w.exportOne(ctx, p.CustomerID, p.TransactionID); err != nil {
			slog.ErrorContext(ctx, "Failed to export transaction",
				"transaction_id", p.TransactionID, "error", err)
		}
	}
	return nil
}

// StartupCheck drains the pending backlog once at worker startup. Useful to
// recover from missed AMQP messages or worker downtime.
func (w *ExportWorker) StartupCheck(ctx context.Context) error {
	pending, err := w.store.GetPendingExportTransactions(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending transactions for startup check: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending exports found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending exports on startup, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0
	for _, p := range pending {
		if err := w.exportOne(ctx, p.CustomerID, p.TransactionID); err != nil {
			slog.ErrorContext(ctx, "Failed to export transaction during startup",
				"transaction_id", p.TransactionID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup export completed",
		"total", len(pending),
		"exported", successCount,
		"errors", errorCount)
	return nil
}

func (w *ExportWorker) exportOne(ctx context.Context, customerID, txID string) error {
	row, err := w.store.GetExportRow(ctx, customerID, txID)
	if err != nil {
		if markErr := w.store.MarkExportError(ctx, txID, err); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error",
				"transaction_id", txID, "error", markErr)
		}
		return fmt.Errorf("get export row: %w", err)
	}

	ref, err := w.book.Append(ctx, export.Row{
		OccurredAt:   row.Transaction.OccurredAt,
		CustomerName: row.CustomerName,
		Kind:         row.Transaction.Kind,
		Amount:       row.Transaction.Amount,
		Description:  row.Transaction.Description,
		PendingAfter: row.Pending,
	})
	if err != nil {
		if markErr := w.store.MarkExportError(ctx, txID, err); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error",
				"transaction_id", txID, "error", markErr)
		}
		return fmt.Errorf("append to backup book: %w", err)
	}

	if err := w.store.MarkExported(ctx, txID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark as exported",
			"transaction_id", txID, "error", err)
		// Don't return an error here, the export itself worked.
	}

	slog.InfoContext(ctx, "Transaction exported",
		"transaction_id", txID,
		"book_ref", ref,
		"customer", row.CustomerName,
		"amount_cents", row.Transaction.Amount.Cents)
	return nil
}
