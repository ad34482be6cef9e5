package ledger

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mamadbah2/flockledger/internal/domain/errs"
	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/metrics"
	"github.com/mamadbah2/flockledger/internal/repository"
	"github.com/mamadbah2/flockledger/internal/service/audit"
	"github.com/mamadbah2/flockledger/internal/service/lookup"
	"github.com/mamadbah2/flockledger/internal/service/retry"
)

// BatchLedger owns a batch's lifetime counts.
type BatchLedger interface {
	CreateBatch(ctx context.Context, farmID, name string, originalCount int) (models.Batch, error)
	ApplyLossDelta(ctx context.Context, farmID, batchID string, delta models.LossDelta, actor models.Actor, reason, notes string) (models.LossResult, error)
	GetAvailability(ctx context.Context, farmID, batchID string) (models.Availability, error)
	ArchiveBatch(ctx context.Context, farmID, batchID string) (models.Batch, error)
}

// Service implements BatchLedger on a repository.Store.
type Service struct {
	store   repository.Store
	audit   audit.Recorder
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  *zap.Logger
}

var _ BatchLedger = (*Service)(nil)

// NewService constructs the batch ledger.
func NewService(store repository.Store, recorder audit.Recorder, policy retry.Policy, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		audit:   recorder,
		policy:  policy,
		metrics: m,
		logger:  logger,
	}
}

// CreateBatch registers a batch with all loss counters at zero.
func (s *Service) CreateBatch(ctx context.Context, farmID, name string, originalCount int) (models.Batch, error) {
	if strings.TrimSpace(farmID) == "" {
		return models.Batch{}, errs.InvalidInput("farm id is required")
	}
	if originalCount < 0 {
		return models.Batch{}, errs.InvalidInput("original count must not be negative, got %d", originalCount)
	}

	b, err := retry.Do(ctx, s.policy, "batch.create", func() (models.Batch, error) {
		return s.store.CreateBatch(ctx, models.Batch{
			FarmID:        farmID,
			Name:          strings.TrimSpace(name),
			OriginalCount: originalCount,
		})
	}, s.metrics.Retry("batch.create"))
	s.metrics.ObserveMutation("batch.create", err)
	if err != nil {
		return models.Batch{}, err
	}

	s.logger.Info("batch created", zap.String("farm_id", farmID), zap.String("batch_id", b.ID), zap.Int("original_count", originalCount))
	return b, nil
}

// ApplyLossDelta increments the loss counters with one conditional atomic
// update evaluated by the store: the write only matches while the new loss
// total stays within the original count. The read beforehand only produces a
// precise rejection; a lost race is retried and re-checked. Exactly one audit
// entry is recorded per successful call.
func (s *Service) ApplyLossDelta(ctx context.Context, farmID, batchID string, delta models.LossDelta, actor models.Actor, reason, notes string) (models.LossResult, error) {
	if err := validateDelta(delta); err != nil {
		s.metrics.ObserveMutation("batch.losses", err)
		return models.LossResult{}, err
	}
	dead, culled, offlaid := delta.Counts()
	total := delta.Total()

	after, err := retry.Do(ctx, s.policy, "batch.losses", func() (models.Batch, error) {
		current, err := lookup.ActiveBatch(ctx, s.store, farmID, batchID)
		if err != nil {
			return models.Batch{}, err
		}
		if prospective := current.Losses() + total; prospective > current.OriginalCount {
			return models.Batch{}, errs.ConstraintViolation(total, current.OriginalCount-current.Losses(),
				"losses would reach %d of original %d (requested %d, only %d remaining)",
				prospective, current.OriginalCount, total, current.CurrentCount())
		}
		return s.store.IncrementLosses(ctx, farmID, batchID, dead, culled, offlaid)
	}, s.metrics.Retry("batch.losses"))
	s.metrics.ObserveMutation("batch.losses", err)
	if err != nil {
		return models.LossResult{}, err
	}

	before := after
	before.Dead -= dead
	before.Culled -= culled
	before.Offlaid -= offlaid

	entry, pending := s.audit.Record(ctx, models.AuditEntry{
		BatchID:     batchID,
		FarmID:      farmID,
		ActorID:     actor.ID,
		ActorName:   actor.Name,
		Dead:        dead,
		Culled:      culled,
		Offlaid:     offlaid,
		Reason:      reason,
		Notes:       notes,
		BeforeState: before.Snapshot(),
		AfterState:  after.Snapshot(),
		Revision:    after.Revision,
	})

	s.logger.Info("loss delta applied",
		zap.String("farm_id", farmID),
		zap.String("batch_id", batchID),
		zap.Int("dead", dead),
		zap.Int("culled", culled),
		zap.Int("offlaid", offlaid),
		zap.Int("current_count", after.CurrentCount()),
		zap.String("audit_id", entry.ID),
		zap.Bool("audit_pending", pending))

	return models.LossResult{Batch: after, AuditID: entry.ID, AuditPending: pending}, nil
}

// GetAvailability reads the batch first and the allocation table second.
// Allocations only ever shrink the unallocated figure, so the order cannot
// produce a headcount above currentCount.
func (s *Service) GetAvailability(ctx context.Context, farmID, batchID string) (models.Availability, error) {
	return retry.Do(ctx, s.policy, "batch.availability", func() (models.Availability, error) {
		b, err := lookup.Batch(ctx, s.store, farmID, batchID)
		if err != nil {
			return models.Availability{}, err
		}
		allocated, err := s.store.SumAllocatedForBatch(ctx, farmID, batchID)
		if err != nil {
			return models.Availability{}, err
		}
		return availability(b, allocated), nil
	}, s.metrics.Retry("batch.availability"))
}

// ArchiveBatch soft-archives a batch. Batches with birds still allocated to
// houses must be transferred out or corrected first.
func (s *Service) ArchiveBatch(ctx context.Context, farmID, batchID string) (models.Batch, error) {
	b, err := retry.Do(ctx, s.policy, "batch.archive", func() (models.Batch, error) {
		current, err := lookup.ActiveBatch(ctx, s.store, farmID, batchID)
		if err != nil {
			return models.Batch{}, err
		}
		allocated, err := s.store.SumAllocatedForBatch(ctx, farmID, batchID)
		if err != nil {
			return models.Batch{}, err
		}
		if held := max(allocated, current.Allocated); held > 0 {
			return models.Batch{}, errs.ConstraintViolation(held, 0,
				"batch %s still has %d birds allocated to houses", batchID, held)
		}
		return s.store.ArchiveBatch(ctx, farmID, batchID)
	}, s.metrics.Retry("batch.archive"))
	s.metrics.ObserveMutation("batch.archive", err)
	if err != nil {
		return models.Batch{}, err
	}

	s.logger.Info("batch archived", zap.String("farm_id", farmID), zap.String("batch_id", batchID))
	return b, nil
}

func availability(b models.Batch, allocated int) models.Availability {
	current := b.CurrentCount()
	a := models.Availability{
		BatchID:          b.ID,
		OriginalCount:    b.OriginalCount,
		Dead:             b.Dead,
		Culled:           b.Culled,
		Offlaid:          b.Offlaid,
		CurrentCount:     current,
		AllocatedCount:   allocated,
		UnallocatedCount: current - allocated,
	}
	if a.UnallocatedCount < 0 {
		a.OverAllocatedCount = -a.UnallocatedCount
		a.UnallocatedCount = 0
	}
	return a
}

func validateDelta(delta models.LossDelta) error {
	if delta.Empty() {
		return errs.InvalidInput("at least one of dead, culled or offlaid is required")
	}
	for name, v := range map[string]*int{"dead": delta.Dead, "culled": delta.Culled, "offlaid": delta.Offlaid} {
		if v != nil && *v < 0 {
			return errs.InvalidInput("%s must not be negative, got %d", name, *v)
		}
	}
	if delta.Total() == 0 {
		return errs.InvalidInput("loss delta must add at least one bird")
	}
	return nil
}
