package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockledger/internal/domain/errs"
	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/metrics"
	"github.com/mamadbah2/flockledger/internal/repository"
	"github.com/mamadbah2/flockledger/internal/service/lookup"
	"github.com/mamadbah2/flockledger/internal/service/retry"
)

const (
	// DefaultHistoryLimit bounds history reads when callers pass no limit.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit is the largest page History will return.
	MaxHistoryLimit = 500
)

// Store is the persistence surface the trail needs.
type Store interface {
	GetBatch(ctx context.Context, farmID, batchID string) (models.Batch, error)
	InsertAudit(ctx context.Context, entry models.AuditEntry) error
	ListAudit(ctx context.Context, farmID, batchID string, limit int) ([]models.AuditEntry, error)
}

// Recorder appends audit entries for committed mutations.
type Recorder interface {
	Record(ctx context.Context, entry models.AuditEntry) (models.AuditEntry, bool)
}

// Trail is the append-only audit ledger. Entries that cannot be written are
// kept in a pending queue and retried by Flush.
type Trail struct {
	store   Store
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending []models.AuditEntry
	wake    chan struct{}
}

var _ Recorder = (*Trail)(nil)

// NewTrail wires a trail on top of store.
func NewTrail(store Store, policy retry.Policy, m *metrics.Metrics, logger *zap.Logger) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trail{
		store:   store,
		policy:  policy,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		wake:    make(chan struct{}, 1),
	}
}

// Record persists entry. It never fails the caller: the mutation it describes
// is already committed, so on error the entry is queued and the second return
// value reports that it is still pending. The id is assigned before the first
// attempt so retries are idempotent.
func (t *Trail) Record(ctx context.Context, entry models.AuditEntry) (models.AuditEntry, bool) {
	if entry.ID == "" {
		entry.ID = primitive.NewObjectID().Hex()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.now()
	}

	// The caller disconnecting must not drop the record of a committed change.
	ctx = context.WithoutCancel(ctx)

	_, err := retry.Do(ctx, t.policy, "audit.record", func() (struct{}, error) {
		return struct{}{}, t.insert(ctx, entry)
	}, t.metrics.Retry("audit.record"))
	if err == nil {
		return entry, false
	}

	t.metrics.AuditFailure("record")
	t.logger.Error("audit append failed, queued for retry",
		zap.Error(err),
		zap.String("audit_id", entry.ID),
		zap.String("batch_id", entry.BatchID),
		zap.Int64("revision", entry.Revision))
	t.enqueue(entry)
	return entry, true
}

// Flush retries every pending entry once. It returns how many were written
// and an audit-write-failure error when some remain queued.
func (t *Trail) Flush(ctx context.Context) (int, error) {
	t.mu.Lock()
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	var failed []models.AuditEntry
	var lastErr error
	for _, entry := range batch {
		if err := t.insert(ctx, entry); err != nil {
			failed = append(failed, entry)
			lastErr = err
			continue
		}
		t.logger.Info("pending audit entry persisted", zap.String("audit_id", entry.ID), zap.String("batch_id", entry.BatchID))
	}

	if len(failed) > 0 {
		t.mu.Lock()
		t.pending = append(failed, t.pending...)
		n := len(t.pending)
		t.mu.Unlock()
		t.metrics.SetAuditPending(n)
		t.metrics.AuditFailure("flush")
		return len(batch) - len(failed), &errs.Error{
			Kind:    errs.KindAuditWriteFailure,
			Message: fmt.Sprintf("%d audit entries still pending", n),
			Err:     lastErr,
		}
	}

	t.metrics.SetAuditPending(t.Pending())
	return len(batch), nil
}

// Pending reports how many entries are waiting to be written.
func (t *Trail) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Run flushes the queue whenever an entry is queued and every interval until
// ctx is done.
func (t *Trail) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-t.wake:
		}
		if _, err := t.Flush(ctx); err != nil {
			t.logger.Warn("audit flush incomplete", zap.Error(err))
		}
	}
}

// History returns a batch's entries newest first, bounded by limit.
func (t *Trail) History(ctx context.Context, farmID, batchID string, limit int) ([]models.AuditEntry, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	return retry.Do(ctx, t.policy, "audit.history", func() ([]models.AuditEntry, error) {
		if _, err := lookup.Batch(ctx, t.store, farmID, batchID); err != nil {
			return nil, err
		}
		return t.store.ListAudit(ctx, farmID, batchID, limit)
	}, t.metrics.Retry("audit.history"))
}

func (t *Trail) insert(ctx context.Context, entry models.AuditEntry) error {
	err := t.store.InsertAudit(ctx, entry)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil
	}
	return err
}

func (t *Trail) enqueue(entry models.AuditEntry) {
	t.mu.Lock()
	t.pending = append(t.pending, entry)
	n := len(t.pending)
	t.mu.Unlock()

	t.metrics.SetAuditPending(n)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}
