package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"lufashion/internal/amqp"
	"lufashion/internal/config"
	"lufashion/internal/core"
	"lufashion/internal/export"
	"lufashion/internal/export/google"
	"lufashion/internal/export/memory"
	"lufashion/internal/log"
	"lufashion/internal/notify"
	"lufashion/internal/storage"
	"lufashion/internal/worker"
)

func main() {
	// Load .env for local development; ignore errors in production.
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig())
	log.SetDefault(logger)

	logger.Info("Starting lufashion-notifier")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var book export.TransactionAppender
	switch cfg.ExportBackend {
	case "google":
		client, err := google.NewFromEnv(ctx)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		book = client
		logger.Info("Initialized Google Sheets export backend")
	default:
		book = memory.New()
		logger.Info("Initialized in-memory export backend")
	}

	var sender notify.Sender
	if cfg.NotifyWebhookURL != "" {
		sender = notify.NewWebhookSender(cfg.NotifyWebhookURL, cfg.NotifyWebhookToken, cfg.DefaultPhone)
		logger.Info("Initialized webhook notice sender")
	} else {
		sender = notify.LogSender{}
		logger.Info("No webhook configured, notices go to the log")
	}

	exportClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPExportQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP export client", "error", err)
		os.Exit(1)
	}
	defer exportClient.Close()

	noticesClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPNoticesQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP notices client", "error", err)
		os.Exit(1)
	}
	defer noticesClient.Close()

	exportWorker := worker.NewExportWorker(repo, book, cfg.ExportBatchSize)
	notifyWorker := worker.NewNotifyWorker(repo, noticesClient, sender,
		core.Classifier{DueSoonWindowDays: cfg.DueSoonWindowDays})

	// Catch up on anything missed while the notifier was down.
	if err := exportWorker.StartupCheck(ctx); err != nil {
		logger.Error("Startup export check failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return exportClient.ConsumeTransactionSync(ctx, func(msg *amqp.TransactionSyncMessage) error {
			return exportWorker.HandleSyncMessage(ctx, msg)
		})
	})

	g.Go(func() error {
		return noticesClient.ConsumeOverdueNotices(ctx, func(msg *amqp.OverdueNoticeMessage) error {
			return notifyWorker.HandleNoticeMessage(ctx, msg)
		})
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.ExportSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := exportWorker.ProcessPending(ctx); err != nil {
					logger.Error("Export sweep failed", "error", err)
				}
			}
		}
	})

	g.Go(func() error {
		return notifyWorker.RunScanLoop(ctx, cfg.OverdueScanInterval)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Notifier stopped gracefully")
}
