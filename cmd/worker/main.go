package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-exim/meridian-exim/internal/app"
	"github.com/meridian-exim/meridian-exim/internal/companies"
	"github.com/meridian-exim/meridian-exim/internal/numbering"
	"github.com/meridian-exim/meridian-exim/internal/packinglists"
	"github.com/meridian-exim/meridian-exim/internal/platform/cache"
	"github.com/meridian-exim/meridian-exim/internal/platform/db"
	"github.com/meridian-exim/meridian-exim/internal/shared"
	"github.com/meridian-exim/meridian-exim/internal/shipments"
	"github.com/meridian-exim/meridian-exim/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPingTimeout)
	if err != nil {
		logger.Warn("redis unavailable, resolver cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	numbers := numbering.New(pool, logger)

	// Counters can lag the document tables after a data import. Raise them
	// to the highest stored suffix before any job allocates numbers.
	now := time.Now().UTC()
	for _, src := range []struct {
		family string
		legacy numbering.LegacySource
	}{
		{numbering.FamilyPO, numbering.LegacySource{Table: "po_headers", Column: "po_no"}},
		{numbering.FamilyShipment, numbering.LegacySource{Table: "shipments", Column: "shipment_no"}},
		{numbering.FamilyInvoice, numbering.LegacySource{Table: "invoice_headers", Column: "invoice_no"}},
		{numbering.FamilyPackingList, numbering.LegacySource{Table: "packing_list_headers", Column: "packing_list_no"}},
	} {
		prefix := numbering.Prefix(src.family, cfg.DefaultOrigin, now)
		if err := numbers.SyncFromExisting(ctx, prefix, src.legacy); err != nil {
			logger.Warn("sync counter", slog.String("prefix", prefix), slog.Any("error", err))
		}
	}

	companyService := companies.NewService(companies.NewRepository(pool))
	shipmentRepo := shipments.NewRepository(pool, logger)
	shipmentService := shipments.NewService(shipmentRepo, numbers, companyService, nil, logger)

	plRepo := packinglists.NewRepository(pool, logger)
	plResolver := packinglists.NewResolver(plRepo, redisClient, logger)
	plService := packinglists.NewService(plRepo, shipmentService, numbers, plResolver, nil, logger)

	backfillJob := jobs.NewPackingListBackfillJob(plService, logger)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger)

	backfillTask, err := jobs.NewPackingListBackfillTask()
	if err != nil {
		logger.Error("build backfill task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask()
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypePackingListBackfill, Handler: backfillJob.Handle},
			{Type: jobs.TaskTypeIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BackfillCron, Task: backfillTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.CleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
