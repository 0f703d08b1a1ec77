package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-exim/meridian-exim/internal/app"
	"github.com/meridian-exim/meridian-exim/internal/companies"
	"github.com/meridian-exim/meridian-exim/internal/invoices"
	"github.com/meridian-exim/meridian-exim/internal/numbering"
	"github.com/meridian-exim/meridian-exim/internal/orders"
	"github.com/meridian-exim/meridian-exim/internal/packinglists"
	"github.com/meridian-exim/meridian-exim/internal/platform/cache"
	"github.com/meridian-exim/meridian-exim/internal/platform/db"
	"github.com/meridian-exim/meridian-exim/internal/shared"
	"github.com/meridian-exim/meridian-exim/internal/shipments"
	"github.com/meridian-exim/meridian-exim/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
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

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	numbers := numbering.New(pool, logger)
	gate := shared.GateMiddleware{Gate: shared.AllowAllGate{}, Logger: logger}

	companyRepo := companies.NewRepository(pool)
	companyService := companies.NewService(companyRepo)

	orderRepo := orders.NewRepository(pool, logger)
	orderService := orders.NewService(orderRepo, numbers, auditLogger, logger)
	orderHandler := orders.NewHandler(logger, orderService, gate, idempotencyStore)

	shipmentRepo := shipments.NewRepository(pool, logger)
	shipmentService := shipments.NewService(shipmentRepo, numbers, companyService, auditLogger, logger)
	shipmentHandler := shipments.NewHandler(logger, shipmentService, gate, idempotencyStore)

	invoiceRepo := invoices.NewRepository(pool, logger)
	invoiceService := invoices.NewService(invoiceRepo, shipmentService, companyService, numbers, auditLogger, logger)
	invoiceHandler := invoices.NewHandler(logger, invoiceService, gate)

	plRepo := packinglists.NewRepository(pool, logger)
	plResolver := packinglists.NewResolver(plRepo, redisClient, logger)
	plService := packinglists.NewService(plRepo, shipmentService, numbers, plResolver, auditLogger, logger)
	plHandler := packinglists.NewHandler(logger, plService, gate)

	jobInspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobInspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(jobInspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		OrderHandler:       orderHandler,
		ShipmentHandler:    shipmentHandler,
		InvoiceHandler:     invoiceHandler,
		PackingListHandler: plHandler,
		JobHandler:         jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
