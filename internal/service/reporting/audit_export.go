// Package reporting mirrors the audit trail into a spreadsheet for farm
// managers who review losses outside the API.
package reporting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/flockledger/internal/domain/models"
	repo "github.com/mamadbah2/flockledger/internal/repository/sheets"
)

const (
	auditDataRange = "Audit!A:N"
	timeLayout     = time.RFC3339Nano
	defaultPage    = 200
	persistedCol   = 13
	// settleWindow is re-read behind the watermark on every export to pick
	// up inserts that were stamped before, but committed after, the last read.
	settleWindow = time.Minute
)

// AuditSource lists audit entries in insertion order.
type AuditSource interface {
	ListAuditSince(ctx context.Context, since time.Time, limit int) ([]models.AuditEntry, error)
}

// AuditExporter appends audit entries that are not yet in the sheet. The
// sheet itself is the watermark: the first export reads back the ids and the
// latest persisted_at already written. Paging follows persisted_at, so an
// entry the retry queue writes long after its CreatedAt is still exported.
type AuditExporter struct {
	repo   repo.Repository
	source AuditSource
	page   int
	logger *zap.Logger

	mu       sync.Mutex
	loaded   bool
	since    time.Time
	exported map[string]struct{}
}

// NewAuditExporter wires a new exporter instance.
func NewAuditExporter(repository repo.Repository, source AuditSource, logger *zap.Logger) *AuditExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditExporter{
		repo:     repository,
		source:   source,
		page:     defaultPage,
		logger:   logger,
		exported: make(map[string]struct{}),
	}
}

// Export appends every new audit entry and returns how many rows were written.
// Concurrent calls are serialized.
func (e *AuditExporter) Export(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loaded {
		if err := e.loadWatermark(ctx); err != nil {
			return 0, err
		}
		e.loaded = true
	}

	written := 0
	cursor := e.since.Add(-settleWindow)
	for {
		entries, err := e.source.ListAuditSince(ctx, cursor, e.page)
		if err != nil {
			return written, fmt.Errorf("list audit entries: %w", err)
		}

		var rows [][]interface{}
		var fresh []models.AuditEntry
		for _, entry := range entries {
			if _, ok := e.exported[entry.ID]; ok {
				continue
			}
			rows = append(rows, auditRow(entry))
			fresh = append(fresh, entry)
		}

		if len(rows) > 0 {
			if err := e.repo.AppendRows(ctx, auditDataRange, rows); err != nil {
				return written, fmt.Errorf("append audit rows: %w", err)
			}
			for _, entry := range fresh {
				e.exported[entry.ID] = struct{}{}
				if entry.PersistedAt.After(e.since) {
					e.since = entry.PersistedAt
				}
			}
			written += len(rows)
		}

		if len(entries) < e.page {
			break
		}
		// Entries can share a timestamp, so the next page starts just before
		// the last one seen and already exported ids are skipped.
		last := entries[len(entries)-1].PersistedAt
		next := last.Add(-time.Nanosecond)
		if !next.After(cursor) {
			next = last
		}
		cursor = next
	}

	if written > 0 {
		e.logger.Info("audit entries exported", zap.Int("rows", written), zap.Time("watermark", e.since))
	}
	return written, nil
}

func (e *AuditExporter) loadWatermark(ctx context.Context) error {
	rows, err := e.repo.ReadRange(ctx, auditDataRange)
	if err != nil {
		return fmt.Errorf("load audit range: %w", err)
	}

	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		// Rows written before the persisted_at column existed only carry
		// created_at.
		col := 1
		if len(row) > persistedCol {
			col = persistedCol
		}
		stamp, err := time.Parse(timeLayout, fmt.Sprint(row[col]))
		if err != nil {
			// Header row or a hand-edited line.
			e.logger.Debug("skip audit row with invalid timestamp", zap.Any("value", row[col]), zap.Error(err))
			continue
		}
		e.exported[fmt.Sprint(row[0])] = struct{}{}
		if stamp.After(e.since) {
			e.since = stamp
		}
	}
	return nil
}

func auditRow(entry models.AuditEntry) []interface{} {
	return []interface{}{
		entry.ID,
		entry.CreatedAt.UTC().Format(timeLayout),
		entry.FarmID,
		entry.BatchID,
		entry.Revision,
		entry.ActorID,
		entry.ActorName,
		entry.Dead,
		entry.Culled,
		entry.Offlaid,
		entry.BeforeState.CurrentCount,
		entry.AfterState.CurrentCount,
		entry.Reason,
		entry.PersistedAt.UTC().Format(timeLayout),
	}
}
