package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockledger/internal/config"
	"github.com/mamadbah2/flockledger/internal/domain/models"
)

const jobTimeout = 2 * time.Minute

// AuditFlusher retries queued audit entries.
type AuditFlusher interface {
	Flush(ctx context.Context) (int, error)
}

// Reconciler checks the guard counters against the allocation table.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]models.Drift, error)
}

// Exporter mirrors the audit trail elsewhere.
type Exporter interface {
	Export(ctx context.Context) (int, error)
}

// Jobs are the services driven by the scheduler. A nil Exporter disables the
// audit export.
type Jobs struct {
	Audit    AuditFlusher
	Ledger   Reconciler
	Exporter Exporter
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron   *cron.Cron
	jobs   Jobs
	cfg    config.SchedulerConfig
	logger *zap.Logger
}

// NewScheduler creates a new scheduler instance running in the configured timezone.
func NewScheduler(cfg config.SchedulerConfig, jobs Jobs, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
		}
		loc = l
	}

	// SkipIfStillRunning keeps a slow reconcile or export from piling up.
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	return &Scheduler{cron: c, jobs: jobs, cfg: cfg, logger: logger}, nil
}

// Start registers the jobs and starts the scheduler.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler")

	if err := s.add("audit-retry", s.cfg.AuditRetrySchedule, s.flushAudit); err != nil {
		return err
	}
	if err := s.add("reconcile", s.cfg.ReconcileSchedule, s.reconcile); err != nil {
		return err
	}
	if s.jobs.Exporter != nil {
		if err := s.add("audit-export", s.cfg.AuditExportSchedule, s.exportAudit); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) add(name, spec string, fn func()) error {
	if spec == "" {
		s.logger.Info("job disabled", zap.String("job", name))
		return nil
	}
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("schedule %s (%s): %w", name, spec, err)
	}
	s.logger.Info("job scheduled", zap.String("job", name), zap.String("schedule", spec))
	return nil
}

func (s *Scheduler) flushAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.jobs.Audit.Flush(ctx)
	if err != nil {
		s.logger.Warn("audit retry incomplete", zap.Int("persisted", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("queued audit entries persisted", zap.Int("persisted", n))
	}
}

func (s *Scheduler) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	drift, err := s.jobs.Ledger.Reconcile(ctx)
	if err != nil {
		s.logger.Error("reconciliation failed", zap.Error(err))
		return
	}
	s.logger.Info("reconciliation finished", zap.Int("drift", len(drift)))
}

func (s *Scheduler) exportAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if _, err := s.jobs.Exporter.Export(ctx); err != nil {
		s.logger.Error("audit export failed", zap.Error(err))
	}
}
