package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockledger/internal/config"
	"github.com/mamadbah2/flockledger/internal/metrics"
	"github.com/mamadbah2/flockledger/internal/repository"
	"github.com/mamadbah2/flockledger/internal/repository/memory"
	"github.com/mamadbah2/flockledger/internal/repository/mongodb"
	"github.com/mamadbah2/flockledger/internal/repository/sheets"
	"github.com/mamadbah2/flockledger/internal/scheduler"
	"github.com/mamadbah2/flockledger/internal/server/handlers"
	"github.com/mamadbah2/flockledger/internal/server/router"
	allocationsvc "github.com/mamadbah2/flockledger/internal/service/allocation"
	auditsvc "github.com/mamadbah2/flockledger/internal/service/audit"
	ledgersvc "github.com/mamadbah2/flockledger/internal/service/ledger"
	reportingsvc "github.com/mamadbah2/flockledger/internal/service/reporting"
	"github.com/mamadbah2/flockledger/internal/service/retry"
	transfersvc "github.com/mamadbah2/flockledger/internal/service/transfer"
	"github.com/mamadbah2/flockledger/pkg/logger"
)

// auditWakeInterval bounds how long a queued audit entry waits when no new
// failure wakes the worker.
const auditWakeInterval = 10 * time.Second

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New("flockledger", cfg.Server.LogLevel))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	store := openStore(cfg, baseLogger)
	defer func() {
		if err := store.Close(context.Background()); err != nil {
			baseLogger.Error("failed to close store", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	policy := retry.Policy{
		MaxAttempts:     cfg.Ledger.MaxAttempts,
		InitialInterval: cfg.Ledger.InitialInterval,
		MaxInterval:     cfg.Ledger.MaxInterval,
	}

	trail := auditsvc.NewTrail(store, policy, m, logger.Named(baseLogger, "svc.audit"))
	ledger := ledgersvc.NewService(store, trail, policy, m, logger.Named(baseLogger, "svc.ledger"))
	table := allocationsvc.NewService(store, ledger, policy, m, logger.Named(baseLogger, "svc.allocation"))
	orchestrator := transfersvc.NewOrchestrator(store, policy, m, logger.Named(baseLogger, "svc.transfer"))

	jobs := scheduler.Jobs{Audit: trail, Ledger: ledger}
	if cfg.Sheets.Enabled() && cfg.Scheduler.AuditExportSchedule != "" {
		sheetsRepo, err := sheets.NewGoogleSheetRepository(context.Background(), cfg.Sheets, logger.Named(baseLogger, "repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init sheets repository", zap.Error(err))
		}
		jobs.Exporter = reportingsvc.NewAuditExporter(sheetsRepo, store, logger.Named(baseLogger, "svc.reporting"))
		baseLogger.Info("audit export to google sheets enabled")
	}

	engine := router.New(router.Handlers{
		Batches:     handlers.NewBatchHandler(ledger, trail, logger.Named(baseLogger, "handlers.batches")),
		Allocations: handlers.NewAllocationHandler(table, orchestrator, logger.Named(baseLogger, "handlers.allocations")),
	}, registry, logger.Named(baseLogger, "router"))

	sched, err := scheduler.NewScheduler(cfg.Scheduler, jobs, logger.Named(baseLogger, "scheduler"))
	if err != nil {
		baseLogger.Fatal("failed to init scheduler", zap.Error(err))
	}
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		trail.Run(ctx, auditWakeInterval)
	}()

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}

	<-workerDone
	// Last attempt for entries queued while the store was unavailable.
	if n, err := trail.Flush(shutdownCtx); err != nil {
		baseLogger.Error("audit entries lost on shutdown", zap.Int("pending", trail.Pending()), zap.Error(err))
	} else if n > 0 {
		baseLogger.Info("pending audit entries persisted on shutdown", zap.Int("persisted", n))
	}
}

func openStore(cfg *config.Config, log *zap.Logger) repository.Store {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		log.Warn("using in-memory store, data is lost on restart")
		return memory.New()
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		repo, err := mongodb.NewMongoDBRepository(ctx, cfg.MongoDB.URI, cfg.MongoDB.DBName, logger.Named(log, "repo.mongodb"))
		if err != nil {
			log.Fatal("failed to init mongodb repository", zap.Error(err))
		}
		return repo
	}
}
